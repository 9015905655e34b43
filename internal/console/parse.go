package console

import (
	"errors"
	"fmt"
	"strings"

	"github.com/letsssgooo/examSession/internal/domain/models"
)

// ErrInvalidAnswer — ответ не подходит к типу вопроса.
var ErrInvalidAnswer = errors.New("invalid answer")

// AnswerLetters — допустимые буквы для ответов (A-F для до 6 вариантов).
var AnswerLetters = []string{"A", "B", "C", "D", "E", "F"}

// LetterToIndex преобразует букву в индекс (A=0, B=1, ...). Регистр не важен.
func LetterToIndex(letter string) (int, bool) {
	letter = strings.ToUpper(letter)
	for i, l := range AnswerLetters {
		if l == letter {
			return i, true
		}
	}

	return -1, false
}

// IndexToLetter преобразует индекс в букву (0=A, 1=B, ...).
func IndexToLetter(idx int) string {
	if idx >= 0 && idx < len(AnswerLetters) {
		return AnswerLetters[idx]
	}

	return ""
}

// ParseAnswer разбирает аргументы команды answer в ответ на вопрос q.
func ParseAnswer(q models.TestQuestion, args string) (models.AnswerPayload, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return models.AnswerPayload{}, fmt.Errorf("%w: empty answer", ErrInvalidAnswer)
	}

	switch q.Type {
	case models.QuestionSingleChoice, models.QuestionMultipleChoice:
		return parseChoice(q, args)
	case models.QuestionTrueFalse:
		return parseBool(args)
	case models.QuestionCoding:
		return parseCode(args)
	default:
		return models.AnswerPayload{Text: args}, nil
	}
}

func parseChoice(q models.TestQuestion, args string) (models.AnswerPayload, error) {
	options, err := q.Options()
	if err != nil {
		return models.AnswerPayload{}, err
	}

	tokens := strings.FieldsFunc(args, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})

	if q.Type == models.QuestionSingleChoice && len(tokens) != 1 {
		return models.AnswerPayload{}, fmt.Errorf("%w: single choice takes one option", ErrInvalidAnswer)
	}

	seen := make(map[string]bool, len(tokens))
	ids := make([]string, 0, len(tokens))

	for _, token := range tokens {
		id, ok := resolveOption(options, token)
		if !ok {
			return models.AnswerPayload{}, fmt.Errorf("%w: unknown option %q", ErrInvalidAnswer, token)
		}

		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return models.AnswerPayload{OptionIDs: ids}, nil
}

// resolveOption ищет вариант сначала по id, потом по букве.
func resolveOption(options []models.Option, token string) (string, bool) {
	for _, o := range options {
		if o.ID == token {
			return o.ID, true
		}
	}

	if idx, ok := LetterToIndex(token); ok && idx < len(options) {
		return options[idx].ID, true
	}

	return "", false
}

func parseBool(args string) (models.AnswerPayload, error) {
	var choice bool

	switch strings.ToLower(args) {
	case "true", "да":
		choice = true
	case "false", "нет":
		choice = false
	default:
		return models.AnswerPayload{}, fmt.Errorf("%w: expected true/false or да/нет", ErrInvalidAnswer)
	}

	return models.AnswerPayload{Choice: &choice}, nil
}

func parseCode(args string) (models.AnswerPayload, error) {
	language, code, ok := strings.Cut(args, " ")
	code = strings.TrimSpace(code)
	if !ok || code == "" {
		return models.AnswerPayload{}, fmt.Errorf("%w: expected <language> <code>", ErrInvalidAnswer)
	}

	code = strings.NewReplacer(`\n`, "\n", `\t`, "\t").Replace(code)

	return models.AnswerPayload{Language: language, Code: code}, nil
}
