package session

import (
	"context"
	"errors"

	"github.com/letsssgooo/examSession/internal/domain/models"
	"github.com/letsssgooo/examSession/internal/navigation"
)

// Ошибки контроллера
var (
	ErrCatalogFetchFailed = errors.New("catalog fetch failed")
	ErrInvalidTransition  = errors.New("invalid session transition")
	ErrSubmissionInFlight = errors.New("section submission is in flight")
	ErrRetryLimit         = errors.New("retry limit exceeded")
	ErrAbandoned          = errors.New("session is abandoned")
	ErrUnknownQuestion    = errors.New("question does not belong to the active section")
)

// Catalog — внешний сервис, который создает попытку и отдает секции.
type Catalog interface {
	// StartAssessment создает попытку. SectionCount в ответе задает число секций.
	StartAssessment(ctx context.Context, assessmentID, userID string) (*models.Submission, error)

	// GetSectionQuestions возвращает секцию с порядковым номером sectionOrder (с единицы).
	GetSectionQuestions(ctx context.Context, submissionID string, sectionOrder int) (*models.SectionTest, error)
}

// State — состояние сессии.
type State int

const (
	StateNotStarted State = iota
	StateSecurityPending
	StateSectionActive
	StateSectionSubmitting
	StateFinalizing
	StateGraded
	StateClosed
	StateAbandoned
)

var stateNames = map[State]string{
	StateNotStarted:        "not_started",
	StateSecurityPending:   "security_pending",
	StateSectionActive:     "section_active",
	StateSectionSubmitting: "section_submitting",
	StateFinalizing:        "finalizing",
	StateGraded:            "graded",
	StateClosed:            "closed",
	StateAbandoned:         "abandoned",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return "unknown"
}

// Terminal сообщает, что из состояния больше нет переходов.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateAbandoned
}

// EventType — тип события сессии.
type EventType string

const (
	EventPermissionDenied  EventType = "permission_denied"
	EventSectionStarted    EventType = "section_started"
	EventTick              EventType = "tick"
	EventSectionExpired    EventType = "section_expired"
	EventSectionSubmitting EventType = "section_submitting"
	EventSectionSubmitted  EventType = "section_submitted"
	EventBlocked           EventType = "blocked"
	EventFinalizing        EventType = "finalizing"
	EventGraded            EventType = "graded"
	EventAbandoned         EventType = "abandoned"
	EventClosed            EventType = "closed"
)

// Причины отправки секции
const (
	ReasonManual  = "manual"
	ReasonExpired = "expired"
)

// Event представляет событие сессии.
type Event struct {
	Type         EventType
	SectionIndex int
	Remaining    int
	Reason       string
	Err          error
}

// View — снимок сессии только для чтения.
type View struct {
	State        State
	SectionIndex int
	SectionCount int
	SectionName  string

	// QuestionIndex и Question описывают текущий вопрос, Question nil вне активной секции
	QuestionIndex int
	Question      *models.TestQuestion
	Answer        *models.AnswerPayload

	Remaining int
	Badges    []navigation.Badge
	Answered  int
	Total     int

	Submitting bool
	Blocked    bool
	LastErr    error

	Submission *models.Submission
	Result     *models.GradingResult
}
