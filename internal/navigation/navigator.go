package navigation

import (
	"errors"
	"fmt"

	"github.com/letsssgooo/examSession/internal/answers"
	"github.com/letsssgooo/examSession/internal/domain/models"
)

// ErrInvalidNavigation — индекс вопроса вне секции.
var ErrInvalidNavigation = errors.New("question index out of range")

// BadgeState — отображаемое состояние вопроса.
type BadgeState string

const (
	BadgeCurrent    BadgeState = "current"
	BadgeAnswered   BadgeState = "answered"
	BadgeUnanswered BadgeState = "unanswered"
)

// Badge — значок вопроса в списке навигации.
type Badge struct {
	Index      int
	QuestionID string
	State      BadgeState
}

// Navigator хранит номер текущего вопроса внутри активной секции.
// Переход свободный: можно открыть любой вопрос секции в любом порядке.
type Navigator struct {
	questions []models.TestQuestion
	tracker   *answers.Tracker
	current   int
}

// New создаёт Navigator, текущий вопрос — первый.
func New(questions []models.TestQuestion, tracker *answers.Tracker) *Navigator {
	return &Navigator{
		questions: questions,
		tracker:   tracker,
	}
}

// Current возвращает индекс текущего вопроса.
func (n *Navigator) Current() int {
	return n.current
}

// Len возвращает количество вопросов в секции.
func (n *Navigator) Len() int {
	return len(n.questions)
}

// CurrentQuestion возвращает текущий вопрос.
// ok=false, если в секции нет вопросов.
func (n *Navigator) CurrentQuestion() (models.TestQuestion, bool) {
	if len(n.questions) == 0 {
		return models.TestQuestion{}, false
	}

	return n.questions[n.current], true
}

// GoTo делает текущим вопрос с индексом index.
// Индекс вне [0, Len()) отклоняется, состояние не меняется.
func (n *Navigator) GoTo(index int) error {
	if index < 0 || index >= len(n.questions) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidNavigation, index, len(n.questions))
	}

	n.current = index

	return nil
}

// Badges возвращает состояние каждого вопроса для отображения.
func (n *Navigator) Badges() []Badge {
	badges := make([]Badge, 0, len(n.questions))

	for i, q := range n.questions {
		state := BadgeUnanswered

		switch {
		case i == n.current:
			state = BadgeCurrent
		case n.tracker.IsAnswered(q.ID):
			state = BadgeAnswered
		}

		badges = append(badges, Badge{
			Index:      i,
			QuestionID: q.ID,
			State:      state,
		})
	}

	return badges
}

// AnsweredCount возвращает количество отвеченных вопросов секции.
func (n *Navigator) AnsweredCount() int {
	count := 0
	for _, q := range n.questions {
		if n.tracker.IsAnswered(q.ID) {
			count++
		}
	}

	return count
}
