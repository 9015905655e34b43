package answers

import (
	"sync"

	"github.com/letsssgooo/examSession/internal/domain/models"
)

// Tracker хранит текущий ответ кандидата на каждый вопрос.
// Ключ — ID вопроса, на вопрос хранится не больше одного ответа.
type Tracker struct {
	answers map[string]models.AnswerPayload
	types   map[string]models.QuestionType // ключ - questionID
	mu      sync.RWMutex
}

// NewTracker создаёт пустой Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		answers: make(map[string]models.AnswerPayload),
		types:   make(map[string]models.QuestionType),
	}
}

// Register добавляет вопросы, чтобы трекер знал их типы.
func (t *Tracker) Register(questions ...models.TestQuestion) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, q := range questions {
		t.types[q.ID] = q.Type
	}
}

// Set сохраняет ответ на вопрос, затирая предыдущий.
func (t *Tracker) Set(questionID string, payload models.AnswerPayload) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.answers[questionID] = clonePayload(payload)
}

// Clear удаляет ответ на вопрос.
func (t *Tracker) Clear(questionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.answers, questionID)
}

// Get возвращает сохраненный ответ.
// ok=false означает, что ответа нет.
func (t *Tracker) Get(questionID string) (models.AnswerPayload, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	payload, ok := t.answers[questionID]
	if !ok {
		return models.AnswerPayload{}, false
	}

	return clonePayload(payload), true
}

// IsAnswered проверяет, что на вопрос дан непустой ответ.
func (t *Tracker) IsAnswered(questionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.isAnswered(questionID)
}

// AnsweredCount возвращает количество вопросов с непустым ответом.
func (t *Tracker) AnsweredCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for questionID := range t.answers {
		if t.isAnswered(questionID) {
			count++
		}
	}

	return count
}

// TotalCount возвращает количество зарегистрированных вопросов.
func (t *Tracker) TotalCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.types)
}

func (t *Tracker) isAnswered(questionID string) bool {
	payload, ok := t.answers[questionID]
	if !ok {
		return false
	}

	return payload.Provided(t.types[questionID])
}

func clonePayload(p models.AnswerPayload) models.AnswerPayload {
	if p.OptionIDs != nil {
		p.OptionIDs = append([]string(nil), p.OptionIDs...)
	}

	if p.Choice != nil {
		choice := *p.Choice
		p.Choice = &choice
	}

	return p
}
