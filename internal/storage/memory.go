package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/letsssgooo/examSession/internal/domain/models"
)

// MemoryStorage реализует Storage в памяти.
type MemoryStorage struct {
	results map[string]*models.ResultRecord // ключ - submissionID
	mu      sync.RWMutex
}

// NewMemoryStorage создаёт новый MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		results: make(map[string]*models.ResultRecord),
	}
}

// SaveResult сохраняет результат.
func (s *MemoryStorage) SaveResult(_ context.Context, rec *models.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[rec.SubmissionID] = cloneRecord(rec)

	return nil
}

// GetResult возвращает результат по ID попытки.
func (s *MemoryStorage) GetResult(_ context.Context, submissionID string) (*models.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.results[submissionID]
	if !ok {
		return nil, ErrNotFound
	}

	return cloneRecord(rec), nil
}

// ListResults возвращает список результатов пользователя.
func (s *MemoryStorage) ListResults(_ context.Context, userID string) ([]*models.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.ResultRecord, 0)
	for _, rec := range s.results {
		if rec.UserID == userID {
			list = append(list, cloneRecord(rec))
		}
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].GradedAt.Before(list[j].GradedAt)
	})

	return list, nil
}

func cloneRecord(rec *models.ResultRecord) *models.ResultRecord {
	c := *rec
	c.QuestionIDs = append([]string(nil), rec.QuestionIDs...)
	c.Answers = append([]string(nil), rec.Answers...)
	c.Correct = append([]bool(nil), rec.Correct...)

	return &c
}
