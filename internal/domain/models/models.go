package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Файл с моделями, которыми движок сессии обменивается с внешними сервисами.
// Каталог отдает Submission и SectionTest, сервис оценки отдает GradingResult,
// а движок собирает SectionSubmitBatch из ответов кандидата.

// Ошибки моделей
var (
	ErrStatusRegression = errors.New("submission status can not move backward")
	ErrInvalidResult    = errors.New("invalid grading result")
)

// SubmissionStatus — статус попытки прохождения.
type SubmissionStatus string

const (
	StatusInProgress SubmissionStatus = "in_progress"
	StatusSubmitted  SubmissionStatus = "submitted"
	StatusGraded     SubmissionStatus = "graded"
)

var statusRank = map[SubmissionStatus]int{
	StatusInProgress: 0,
	StatusSubmitted:  1,
	StatusGraded:     2,
}

// Submission описывает одну попытку кандидата пройти одно тестирование.
type Submission struct {
	ID           string           `json:"id"`
	AssessmentID string           `json:"assessment_id"`
	UserID       string           `json:"user_id"`
	StartedAt    time.Time        `json:"started_at"`
	SubmittedAt  *time.Time       `json:"submitted_at,omitempty"`
	TotalScore   float64          `json:"total_score"`
	MaxScore     float64          `json:"max_score"`
	Percentage   float64          `json:"percentage"`
	Status       SubmissionStatus `json:"status"`
	SectionCount int              `json:"section_count"`
}

// Advance переводит попытку в статус to.
// Статус может только расти: in_progress -> submitted -> graded.
// Повторная установка текущего статуса ничего не меняет.
func (s *Submission) Advance(to SubmissionStatus) error {
	next, ok := statusRank[to]
	if !ok {
		return fmt.Errorf("unknown submission status %q", to)
	}

	current := statusRank[s.Status]
	if next < current {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, s.Status, to)
	}

	s.Status = to

	return nil
}

// QuestionType — тип вопроса (закрытый набор).
type QuestionType string

const (
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionEssay          QuestionType = "essay"
	QuestionCoding         QuestionType = "coding"
)

// TestQuestion представляет вопрос секции. Движок его только читает.
type TestQuestion struct {
	ID         string          `json:"id"`
	Type       QuestionType    `json:"type"`
	Difficulty string          `json:"difficulty"`
	Prompt     string          `json:"prompt"`
	Points     int             `json:"points"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Option — вариант ответа в вопросах с выбором.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Options разбирает варианты ответа из payload вопроса.
func (q TestQuestion) Options() ([]Option, error) {
	if len(q.Payload) == 0 {
		return nil, nil
	}

	var payload struct {
		Options []Option `json:"options"`
	}
	if err := json.Unmarshal(q.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode options of question %s: %w", q.ID, err)
	}

	return payload.Options, nil
}

// SectionTest — вопросы одной секции, которые каталог отдает по запросу.
type SectionTest struct {
	SectionID       string         `json:"section_id"`
	SectionName     string         `json:"section_name"`
	SectionOrder    int            `json:"section_order"`
	DurationSeconds int            `json:"duration_seconds"`
	Questions       []TestQuestion `json:"questions"`
}

// Has проверяет, что вопрос questionID принадлежит секции.
func (s *SectionTest) Has(questionID string) bool {
	for _, q := range s.Questions {
		if q.ID == questionID {
			return true
		}
	}

	return false
}

// AnswerPayload — ответ кандидата. Заполненные поля зависят от типа вопроса.
type AnswerPayload struct {
	OptionIDs []string `json:"option_ids,omitempty"`
	Choice    *bool    `json:"choice,omitempty"`
	Text      string   `json:"text,omitempty"`
	Code      string   `json:"code,omitempty"`
	Language  string   `json:"language,omitempty"`
}

// Provided сообщает, дан ли ответ с учетом типа вопроса.
// Пустая строка, пустой выбор и не выбранное да/нет считаются отсутствием ответа.
func (p AnswerPayload) Provided(t QuestionType) bool {
	switch t {
	case QuestionSingleChoice, QuestionMultipleChoice:
		return p.hasOptions()
	case QuestionTrueFalse:
		return p.Choice != nil
	case QuestionShortAnswer, QuestionEssay:
		return strings.TrimSpace(p.Text) != ""
	case QuestionCoding:
		return strings.TrimSpace(p.Code) != ""
	default:
		return p.hasOptions() ||
			p.Choice != nil ||
			strings.TrimSpace(p.Text) != "" ||
			strings.TrimSpace(p.Code) != ""
	}
}

func (p AnswerPayload) hasOptions() bool {
	for _, id := range p.OptionIDs {
		if id != "" {
			return true
		}
	}

	return false
}

// String возвращает ответ в читаемом виде для отчетов.
func (p AnswerPayload) String() string {
	switch {
	case len(p.OptionIDs) > 0:
		return strings.Join(p.OptionIDs, ",")
	case p.Choice != nil:
		return fmt.Sprint(*p.Choice)
	case p.Code != "":
		return p.Language + ": " + p.Code
	default:
		return p.Text
	}
}

// UserAnswer — ответ на один вопрос внутри пакета секции.
// Answered=false с пустым Payload означает, что ответа нет.
type UserAnswer struct {
	QuestionID string        `json:"question_id"`
	Payload    AnswerPayload `json:"payload"`
	Answered   bool          `json:"answered"`
}

// UnansweredEntry создает запись-заглушку для вопроса без ответа.
func UnansweredEntry(questionID string) UserAnswer {
	return UserAnswer{QuestionID: questionID}
}

// SectionSubmitBatch — ответы одной секции в момент отправки.
type SectionSubmitBatch struct {
	SectionID    string       `json:"section_id"`
	SectionOrder int          `json:"section_order"`
	Answers      []UserAnswer `json:"answers"`
}

// AnsweredCount возвращает количество отвеченных вопросов в пакете.
func (b SectionSubmitBatch) AnsweredCount() int {
	count := 0
	for _, a := range b.Answers {
		if a.Answered {
			count++
		}
	}

	return count
}

// QuestionResult — оценка одного вопроса.
type QuestionResult struct {
	QuestionID       string        `json:"question_id"`
	IsCorrect        bool          `json:"is_correct"`
	PointsEarned     float64       `json:"points_earned"`
	MaxPoints        int           `json:"max_points"`
	UserAnswer       AnswerPayload `json:"user_answer"`
	CorrectAnswer    string        `json:"correct_answer,omitempty"`
	CorrectOptionIDs []string      `json:"correct_option_ids,omitempty"`
}

// GradingResult — итог оценки попытки.
type GradingResult struct {
	SubmissionID string           `json:"submission_id"`
	TotalScore   float64          `json:"total_score"`
	MaxScore     float64          `json:"max_score"`
	Percentage   float64          `json:"percentage"`
	Questions    []QuestionResult `json:"questions"`
}

// Normalize проверяет баллы и пересчитывает процент.
func (r *GradingResult) Normalize() error {
	if r.MaxScore < 0 || r.TotalScore < 0 {
		return fmt.Errorf("%w: negative score %v/%v", ErrInvalidResult, r.TotalScore, r.MaxScore)
	}

	if r.TotalScore > r.MaxScore {
		return fmt.Errorf("%w: total score %v exceeds max score %v", ErrInvalidResult, r.TotalScore, r.MaxScore)
	}

	r.Percentage = Percentage(r.TotalScore, r.MaxScore)

	return nil
}

// Percentage считает процент набранных баллов с точностью до сотых.
// При нулевом максимуме возвращает 0.
func Percentage(total, maxScore float64) float64 {
	if maxScore == 0 {
		return 0
	}

	return math.Round(total*100/maxScore*100) / 100
}

// ResultRecord — плоская запись результата для архива.
type ResultRecord struct {
	SubmissionID string
	AssessmentID string
	UserID       string
	QuestionIDs  []string
	Answers      []string
	Correct      []bool
	Points       float64
	MaxPoints    float64
	Percentage   float64
	GradedAt     time.Time
}
