package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/letsssgooo/examSession/internal/domain/models"
)

// Таймауты
const (
	defaultTimeout = 10 * time.Second
	defaultRPS     = 5
	defaultBurst   = 1
)

// envelope — общий формат ответа бэкенда.
type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"description"`
}

type startRequest struct {
	UserID string `json:"user_id"`
}

type submitRequest struct {
	Sections []models.SectionSubmitBatch `json:"sections"`
}

// APIError описывает ошибку, которую вернул бэкенд.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client api error: status %d: %s", e.StatusCode, e.Description)
}

// Retryable сообщает, имеет ли смысл повторить запрос.
// Повторяются 5xx, 408 и 429, остальные ответы окончательные.
func (e *APIError) Retryable() bool {
	switch {
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
