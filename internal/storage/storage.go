package storage

import (
	"context"
	"errors"

	"github.com/letsssgooo/examSession/internal/domain/models"
)

// ErrNotFound — результата с таким ID нет в архиве.
var ErrNotFound = errors.New("result not found")

// Storage определяет интерфейс архива оцененных попыток.
type Storage interface {
	// SaveResult сохраняет результат. Повторное сохранение той же попытки перезаписывает запись.
	SaveResult(ctx context.Context, rec *models.ResultRecord) error

	// GetResult возвращает результат попытки submissionID.
	GetResult(ctx context.Context, submissionID string) (*models.ResultRecord, error)

	// ListResults возвращает результаты пользователя userID в порядке оценки.
	ListResults(ctx context.Context, userID string) ([]*models.ResultRecord, error)
}
