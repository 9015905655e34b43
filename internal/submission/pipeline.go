package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/letsssgooo/examSession/internal/answers"
	"github.com/letsssgooo/examSession/internal/domain/models"
	"github.com/letsssgooo/examSession/internal/lib/idempotency"
	"github.com/letsssgooo/examSession/internal/metrics"
)

// ErrSubmissionFailed — отправку не удалось выполнить даже после повторов.
var ErrSubmissionFailed = errors.New("submission failed")

// Grading — внешний сервис оценки.
type Grading interface {
	// SubmitAssessment отправляет все секции и возвращает результат оценки.
	SubmitAssessment(ctx context.Context, submissionID string, batches []models.SectionSubmitBatch) (*models.GradingResult, error)

	// GetSubmission возвращает попытку в том виде, в каком ее видит сервер.
	GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error)
}

// SectionSaver — необязательная часть сервиса оценки: сохранение секции сразу после отправки.
type SectionSaver interface {
	SaveSection(ctx context.Context, submissionID string, batch models.SectionSubmitBatch) error
}

// RetryPolicy задает автоматические повторы удаленных вызовов.
type RetryPolicy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy — три попытки с экспоненциальной паузой.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Option настраивает Pipeline.
type Option func(*Pipeline)

// WithRetryPolicy задает политику повторов.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithLogger задает логгер.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithMetrics задает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock задает источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline превращает ответы из трекера в пакеты секций и отправляет их на оценку.
type Pipeline struct {
	grading Grading
	saver   SectionSaver
	policy  RetryPolicy
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	keys    map[string]string // ключ - submissionID
	mu      sync.Mutex
}

// NewPipeline создаёт Pipeline. Если grading умеет SaveSection,
// секции сохраняются на сервере сразу после отправки.
func NewPipeline(grading Grading, opts ...Option) *Pipeline {
	p := &Pipeline{
		grading: grading,
		policy:  DefaultRetryPolicy(),
		log:     slog.Default(),
		now:     time.Now,
		keys:    make(map[string]string),
	}

	if saver, ok := grading.(SectionSaver); ok {
		p.saver = saver
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// BuildSectionBatch собирает пакет секции из трекера.
// На каждый вопрос секции приходится одна запись, на вопрос без ответа — заглушка.
// Трекер не изменяется.
func (p *Pipeline) BuildSectionBatch(section *models.SectionTest, tracker *answers.Tracker) models.SectionSubmitBatch {
	batch := models.SectionSubmitBatch{
		SectionID:    section.SectionID,
		SectionOrder: section.SectionOrder,
		Answers:      make([]models.UserAnswer, 0, len(section.Questions)),
	}

	for _, q := range section.Questions {
		if !tracker.IsAnswered(q.ID) {
			batch.Answers = append(batch.Answers, models.UnansweredEntry(q.ID))
			continue
		}

		payload, _ := tracker.Get(q.ID)
		batch.Answers = append(batch.Answers, models.UserAnswer{
			QuestionID: q.ID,
			Payload:    payload,
			Answered:   true,
		})
	}

	return batch
}

// DispatchSection отправляет пакет секции на сервер, если сервер это поддерживает.
func (p *Pipeline) DispatchSection(ctx context.Context, submissionID string, batch models.SectionSubmitBatch) error {
	if p.saver == nil {
		return nil
	}

	err := p.retry(ctx, metrics.StageDispatch, func() error {
		return p.saver.SaveSection(ctx, submissionID, batch)
	})
	if err != nil {
		p.metrics.Failure(metrics.StageDispatch)
		return fmt.Errorf("%w: section %d: %w", ErrSubmissionFailed, batch.SectionOrder, err)
	}

	p.log.Info("section dispatched",
		slog.String("submission_id", submissionID),
		slog.Int("section", batch.SectionOrder),
		slog.Int("answered", batch.AnsweredCount()),
	)

	return nil
}

// SubmitFinal отправляет все пакеты и возвращает обновленную попытку и результат.
// Все попытки для одной Submission идут с одним ключом идемпотентности.
// Пакеты вызывающего не изменяются, после ошибки их можно отправить снова.
func (p *Pipeline) SubmitFinal(
	ctx context.Context,
	sub models.Submission,
	batches []models.SectionSubmitBatch,
) (models.Submission, *models.GradingResult, error) {
	if sub.Status == models.StatusGraded {
		return sub, nil, fmt.Errorf("submission %s is already graded", sub.ID)
	}

	ctx = idempotency.WithKey(ctx, p.key(sub.ID))

	var result *models.GradingResult

	err := p.retry(ctx, metrics.StageFinal, func() error {
		r, err := p.grading.SubmitAssessment(ctx, sub.ID, batches)
		if err != nil {
			return err
		}

		result = r

		return nil
	})
	if err != nil {
		p.metrics.Failure(metrics.StageFinal)
		sub = p.reconcile(ctx, sub)

		return sub, nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}

	submittedAt := p.now()
	if err = sub.Advance(models.StatusSubmitted); err != nil {
		return sub, nil, err
	}
	sub.SubmittedAt = &submittedAt

	if result == nil {
		return sub, nil, fmt.Errorf("%w: empty response", models.ErrInvalidResult)
	}

	if result.SubmissionID == "" {
		result.SubmissionID = sub.ID
	}

	if result.SubmissionID != sub.ID {
		return sub, nil, fmt.Errorf("%w: result for submission %s, want %s",
			models.ErrInvalidResult, result.SubmissionID, sub.ID)
	}

	if err = result.Normalize(); err != nil {
		return sub, nil, err
	}

	sub.TotalScore = result.TotalScore
	sub.MaxScore = result.MaxScore
	sub.Percentage = result.Percentage

	if err = sub.Advance(models.StatusGraded); err != nil {
		return sub, nil, err
	}

	p.log.Info("submission graded",
		slog.String("submission_id", sub.ID),
		slog.Float64("total_score", sub.TotalScore),
		slog.Float64("max_score", sub.MaxScore),
		slog.Float64("percentage", sub.Percentage),
	)

	return sub, result, nil
}

// reconcile сверяет статус попытки с сервером после неудачной отправки.
// Статус submitted принимается, graded без результата — нет.
func (p *Pipeline) reconcile(ctx context.Context, sub models.Submission) models.Submission {
	if ctx.Err() != nil {
		return sub
	}

	remote, err := p.grading.GetSubmission(ctx, sub.ID)
	if err != nil {
		p.log.Warn("failed to reconcile submission status",
			slog.String("submission_id", sub.ID),
			slog.String("error", err.Error()),
		)
		return sub
	}

	if remote.Status == models.StatusSubmitted || remote.Status == models.StatusGraded {
		if err = sub.Advance(models.StatusSubmitted); err == nil && sub.SubmittedAt == nil {
			sub.SubmittedAt = remote.SubmittedAt
		}
	}

	return sub
}

// key возвращает ключ идемпотентности для submissionID.
func (p *Pipeline) key(submissionID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.keys[submissionID]
	if !ok {
		key = uuid.NewString()
		p.keys[submissionID] = key
	}

	return key
}

// retry выполняет op с ограниченным числом повторов.
func (p *Pipeline) retry(ctx context.Context, stage string, op func() error) error {
	attempts := p.policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.policy.InitialInterval
	exp.MaxInterval = p.policy.MaxInterval
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}, b, func(err error, wait time.Duration) {
		p.metrics.Retry(stage)
		p.log.Warn("remote call failed, retrying",
			slog.String("stage", stage),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}

// retryable сообщает, есть ли смысл повторять вызов после err.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) {
		return classified.Retryable()
	}

	return true
}
