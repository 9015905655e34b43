package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/letsssgooo/examSession/internal/answers"
	"github.com/letsssgooo/examSession/internal/domain/models"
	"github.com/letsssgooo/examSession/internal/metrics"
	"github.com/letsssgooo/examSession/internal/navigation"
	"github.com/letsssgooo/examSession/internal/security"
	"github.com/letsssgooo/examSession/internal/submission"
	"github.com/letsssgooo/examSession/internal/timer"
)

const (
	defaultRetryLimit  = 5
	defaultEventBuffer = 256
)

// step — шаг, на котором сессия заблокирована после ошибки.
type step int

const (
	stepNone step = iota
	stepStart
	stepFetch
	stepDispatch
	stepFinal
)

func (s step) stage() string {
	switch s {
	case stepStart:
		return metrics.StageStart
	case stepFetch:
		return metrics.StageFetch
	case stepDispatch:
		return metrics.StageDispatch
	case stepFinal:
		return metrics.StageFinal
	default:
		return ""
	}
}

// Deps — внешние зависимости контроллера.
type Deps struct {
	Permission security.Permission
	Catalog    Catalog
	Grading    submission.Grading
}

// Option настраивает Controller.
type Option func(*Controller)

// WithLogger задает логгер.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithMetrics задает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithTimerOptions передает опции в таймер каждой секции.
func WithTimerOptions(opts ...timer.Option) Option {
	return func(c *Controller) {
		c.timerOpts = append(c.timerOpts, opts...)
	}
}

// WithRetryLimit ограничивает число ручных повторов одного заблокированного шага.
func WithRetryLimit(limit int) Option {
	return func(c *Controller) {
		c.retryLimit = limit
	}
}

// WithPipelineOptions передает опции в конвейер отправки.
func WithPipelineOptions(opts ...submission.Option) Option {
	return func(c *Controller) {
		c.pipelineOpts = append(c.pipelineOpts, opts...)
	}
}

// WithEventBuffer задает размер буфера канала событий.
func WithEventBuffer(size int) Option {
	return func(c *Controller) {
		c.eventBuffer = size
	}
}

// Controller ведет одну попытку кандидата: шлюз разрешения, секции, таймер и отправку.
// Все методы безопасно вызывать из разных горутин.
type Controller struct {
	assessmentID string
	userID       string

	gate         *security.Gate
	catalog      Catalog
	pipeline     *submission.Pipeline
	pipelineOpts []submission.Option
	timerOpts    []timer.Option
	log          *slog.Logger
	metrics      *metrics.Metrics
	retryLimit   int
	eventBuffer  int

	state      State
	sub        *models.Submission
	sectionIdx int
	section    *models.SectionTest
	tracker    *answers.Tracker
	nav        *navigation.Navigator
	timer      *timer.SectionTimer
	remaining  int
	submitted  map[int]bool
	batches    []models.SectionSubmitBatch
	pending    step
	lastErr    error
	retries    int
	result     *models.GradingResult

	// ctx отменяется в Exit и прерывает сетевые вызовы
	ctx    context.Context
	cancel context.CancelFunc

	events chan Event
	closed bool
	emitMu sync.Mutex

	mu sync.Mutex
}

// New создаёт контроллер сессии для кандидата userID в тестировании assessmentID.
func New(assessmentID, userID string, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		assessmentID: assessmentID,
		userID:       userID,
		catalog:      deps.Catalog,
		log:          slog.Default(),
		retryLimit:   defaultRetryLimit,
		eventBuffer:  defaultEventBuffer,
		state:        StateNotStarted,
		submitted:    make(map[int]bool),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.log = c.log.With(
		slog.String("assessment_id", assessmentID),
		slog.String("user_id", userID),
	)

	c.gate = security.NewGate(deps.Permission, security.WithLogger(c.log))

	pipelineOpts := append([]submission.Option{
		submission.WithLogger(c.log),
		submission.WithMetrics(c.metrics),
	}, c.pipelineOpts...)
	c.pipeline = submission.NewPipeline(deps.Grading, pipelineOpts...)

	c.events = make(chan Event, c.eventBuffer)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	return c
}

// Events возвращает поток событий. Канал закрывается после Exit или Close.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Begin запрашивает разрешение на захват экрана и, если оно получено, начинает первую секцию.
// Без явного разрешения попытка не создается.
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNotStarted {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, state)
	}
	c.state = StateSecurityPending
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	err := c.gate.RequestPermission(opCtx)
	done()

	if err != nil {
		return c.permissionDenied(err)
	}

	return c.startAssessment(ctx)
}

// RetryPermission повторяет запрос разрешения после отказа.
func (c *Controller) RetryPermission(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateSecurityPending || c.gate.State() != security.StateDenied {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: permission retry from %s", ErrInvalidTransition, state)
	}
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	err := c.gate.Retry(opCtx)
	done()

	if err != nil {
		return c.permissionDenied(err)
	}

	return c.startAssessment(ctx)
}

// CancelPermission отказывается от попытки после отказа в разрешении.
// Попытка на сервере не создается.
func (c *Controller) CancelPermission() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSecurityPending {
		return fmt.Errorf("%w: permission cancel from %s", ErrInvalidTransition, c.state)
	}

	if err := c.gate.Cancel(); err != nil {
		return err
	}

	c.abandonLocked("permission_cancelled")

	return nil
}

func (c *Controller) permissionDenied(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAbandoned {
		return ErrAbandoned
	}

	if errors.Is(err, security.ErrPermissionDenied) {
		c.log.Info("capture permission denied")
		c.emit(Event{Type: EventPermissionDenied, Err: err})
	}

	return err
}

// SetAnswer сохраняет ответ на вопрос активной секции.
func (c *Controller) SetAnswer(questionID string, payload models.AnswerPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActiveLocked(); err != nil {
		return err
	}

	if !c.section.Has(questionID) {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}

	c.tracker.Set(questionID, payload)

	return nil
}

// ClearAnswer удаляет ответ на вопрос активной секции.
func (c *Controller) ClearAnswer(questionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActiveLocked(); err != nil {
		return err
	}

	if !c.section.Has(questionID) {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}

	c.tracker.Clear(questionID)

	return nil
}

// GoTo переходит к вопросу index активной секции.
func (c *Controller) GoTo(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkActiveLocked(); err != nil {
		return err
	}

	return c.nav.GoTo(index)
}

func (c *Controller) checkActiveLocked() error {
	switch c.state {
	case StateSectionActive:
		return nil
	case StateSectionSubmitting, StateFinalizing:
		return ErrSubmissionInFlight
	case StateAbandoned:
		return ErrAbandoned
	default:
		return fmt.Errorf("%w: no active section in %s", ErrInvalidTransition, c.state)
	}
}

// SubmitSection отправляет активную секцию вручную.
// Возвращает ошибку, если отправка или загрузка следующей секции заблокировалась.
func (c *Controller) SubmitSection(ctx context.Context) error {
	c.mu.Lock()
	idx := c.sectionIdx
	c.mu.Unlock()

	return c.submitSection(ctx, idx, ReasonManual)
}

// submitSection — единственный переход SectionActive(idx) -> SectionSubmitting(idx).
// Через него идут и ручная отправка, и истечение таймера, поэтому секция отправляется ровно один раз.
func (c *Controller) submitSection(ctx context.Context, idx int, reason string) error {
	c.mu.Lock()

	if c.submitted[idx] {
		inFlight := c.sectionIdx == idx && c.state == StateSectionSubmitting
		c.mu.Unlock()

		if inFlight {
			return ErrSubmissionInFlight
		}
		return fmt.Errorf("%w: section %d is already submitted", ErrInvalidTransition, idx+1)
	}

	if c.state != StateSectionActive || c.sectionIdx != idx {
		state := c.state
		c.mu.Unlock()

		if state == StateAbandoned {
			return ErrAbandoned
		}
		return fmt.Errorf("%w: submit section %d from %s", ErrInvalidTransition, idx+1, state)
	}

	c.submitted[idx] = true
	c.timer.Stop()
	c.state = StateSectionSubmitting

	batch := c.pipeline.BuildSectionBatch(c.section, c.tracker)
	c.batches = append(c.batches, batch)

	c.metrics.SectionSubmitted(reason)
	c.log.Info("section submitting",
		slog.String("submission_id", c.sub.ID),
		slog.Int("section", idx+1),
		slog.String("reason", reason),
		slog.Int("answered", batch.AnsweredCount()),
		slog.Int("total", len(batch.Answers)),
	)

	if reason == ReasonExpired {
		c.emit(Event{Type: EventSectionExpired, SectionIndex: idx})
	}
	c.emit(Event{Type: EventSectionSubmitting, SectionIndex: idx, Reason: reason})
	c.mu.Unlock()

	return c.dispatch(ctx, idx)
}

// Retry повторяет заблокированный шаг. Разрешение повторно не запрашивается,
// таймер уже отправленной секции не перезапускается.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()

	if c.state == StateAbandoned {
		c.mu.Unlock()
		return ErrAbandoned
	}

	if c.pending == stepNone {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: nothing to retry in %s", ErrInvalidTransition, state)
	}

	if c.retries >= c.retryLimit {
		err := fmt.Errorf("%w: %d manual retries used", ErrRetryLimit, c.retries)
		c.mu.Unlock()
		return err
	}

	pending := c.pending
	c.retries++
	c.pending = stepNone
	c.lastErr = nil

	next := c.sectionIdx
	if pending == stepFetch && c.state != StateSecurityPending {
		next = c.sectionIdx + 1
	}

	c.metrics.Retry(pending.stage())
	c.log.Info("retrying blocked step",
		slog.String("stage", pending.stage()),
		slog.Int("attempt", c.retries),
	)
	c.mu.Unlock()

	switch pending {
	case stepStart:
		return c.startAssessment(ctx)
	case stepFetch:
		return c.loadSection(ctx, next)
	case stepDispatch:
		return c.dispatch(ctx, next)
	default:
		return c.finalize(ctx)
	}
}

// Exit прерывает сессию из любого не завершенного состояния.
func (c *Controller) Exit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateAbandoned:
		return nil
	case StateGraded, StateClosed:
		return fmt.Errorf("%w: exit from %s", ErrInvalidTransition, c.state)
	}

	c.abandonLocked("exit")

	return nil
}

// Close завершает оцененную сессию.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateGraded {
		return fmt.Errorf("%w: close from %s", ErrInvalidTransition, c.state)
	}

	c.state = StateClosed
	c.cancel()
	c.emit(Event{Type: EventClosed, SectionIndex: c.sectionIdx})
	c.closeEvents()

	return nil
}

// Snapshot возвращает текущее состояние сессии для отображения.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		State:        c.state,
		SectionIndex: c.sectionIdx,
		Remaining:    c.remaining,
		Submitting:   c.state == StateSectionSubmitting || c.state == StateFinalizing,
		Blocked:      c.pending != stepNone,
		LastErr:      c.lastErr,
	}

	if c.sub != nil {
		sub := *c.sub
		v.Submission = &sub
		v.SectionCount = sub.SectionCount
	}

	if c.section != nil {
		v.SectionName = c.section.SectionName
		v.Badges = c.nav.Badges()
		v.Answered = c.nav.AnsweredCount()
		v.Total = c.nav.Len()
		v.QuestionIndex = c.nav.Current()

		if c.state == StateSectionActive {
			if q, ok := c.nav.CurrentQuestion(); ok {
				v.Question = &q
				if payload, ok := c.tracker.Get(q.ID); ok {
					v.Answer = &payload
				}
			}
		}
	}

	if c.result != nil {
		result := *c.result
		result.Questions = append([]models.QuestionResult(nil), c.result.Questions...)
		v.Result = &result
	}

	return v
}

// startAssessment создает попытку и загружает первую секцию.
func (c *Controller) startAssessment(ctx context.Context) error {
	opCtx, done := c.opContext(ctx)
	sub, err := c.catalog.StartAssessment(opCtx, c.assessmentID, c.userID)
	done()

	if err == nil && sub.SectionCount < 1 {
		err = fmt.Errorf("assessment %s has no sections", c.assessmentID)
	}

	c.mu.Lock()

	if c.state != StateSecurityPending {
		c.mu.Unlock()
		return ErrAbandoned
	}

	if err != nil {
		defer c.mu.Unlock()
		return c.blockLocked(stepStart, fmt.Errorf("failed to start assessment: %w", err))
	}

	if sub.Status == "" {
		sub.Status = models.StatusInProgress
	}
	c.sub = sub
	c.log.Info("assessment started",
		slog.String("submission_id", sub.ID),
		slog.Int("sections", sub.SectionCount),
	)
	c.mu.Unlock()

	return c.loadSection(ctx, 0)
}

// loadSection загружает секцию idx и запускает ее таймер.
func (c *Controller) loadSection(ctx context.Context, idx int) error {
	c.mu.Lock()
	submissionID := c.sub.ID
	c.mu.Unlock()

	order := idx + 1

	opCtx, done := c.opContext(ctx)
	section, err := c.catalog.GetSectionQuestions(opCtx, submissionID, order)
	done()

	if err == nil {
		switch {
		case section == nil:
			err = errors.New("empty response")
		case section.SectionOrder != order:
			err = fmt.Errorf("got section order %d", section.SectionOrder)
		case section.DurationSeconds < 0:
			err = fmt.Errorf("negative duration %d", section.DurationSeconds)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expected := StateSectionSubmitting
	if idx == 0 {
		expected = StateSecurityPending
	}
	if c.state != expected {
		return ErrAbandoned
	}

	if err != nil {
		return c.blockLocked(stepFetch, fmt.Errorf("%w: section %d: %w", ErrCatalogFetchFailed, order, err))
	}

	c.activateLocked(idx, section)

	return nil
}

func (c *Controller) activateLocked(idx int, section *models.SectionTest) {
	c.sectionIdx = idx
	c.section = section
	c.tracker = answers.NewTracker()
	c.tracker.Register(section.Questions...)
	c.nav = navigation.New(section.Questions, c.tracker)
	c.remaining = section.DurationSeconds
	c.state = StateSectionActive
	c.pending = stepNone
	c.lastErr = nil
	c.retries = 0

	c.timer = timer.New(c.onTick(idx), c.onExpire(idx), c.timerOpts...)

	c.metrics.Remaining(section.DurationSeconds)
	c.log.Info("section started",
		slog.String("submission_id", c.sub.ID),
		slog.Int("section", idx+1),
		slog.Int("questions", len(section.Questions)),
		slog.Int("duration_seconds", section.DurationSeconds),
	)
	c.emit(Event{Type: EventSectionStarted, SectionIndex: idx, Remaining: section.DurationSeconds})

	// Колбэки таймера ждут c.mu, поэтому первый тик придет после section_started
	if err := c.timer.Start(section.DurationSeconds); err != nil {
		c.log.Error("failed to start section timer",
			slog.Int("section", idx+1),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) onTick(idx int) func(remaining int) {
	return func(remaining int) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.state != StateSectionActive || c.sectionIdx != idx {
			return
		}

		c.remaining = remaining
		c.metrics.Remaining(remaining)
		c.emit(Event{Type: EventTick, SectionIndex: idx, Remaining: remaining})
	}
}

func (c *Controller) onExpire(idx int) func() {
	return func() {
		c.mu.Lock()
		if c.state == StateSectionActive && c.sectionIdx == idx {
			c.remaining = 0
			c.metrics.SectionExpired()
		}
		c.mu.Unlock()

		err := c.submitSection(context.Background(), idx, ReasonExpired)
		if err != nil {
			c.log.Debug("auto submit finished with error",
				slog.Int("section", idx+1),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dispatch отправляет пакет секции idx и переходит к следующей секции или к оценке.
func (c *Controller) dispatch(ctx context.Context, idx int) error {
	c.mu.Lock()
	submissionID := c.sub.ID
	batch := c.batches[idx]
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	err := c.pipeline.DispatchSection(opCtx, submissionID, batch)
	done()

	c.mu.Lock()

	if c.state != StateSectionSubmitting || c.sectionIdx != idx {
		c.mu.Unlock()
		return ErrAbandoned
	}

	if err != nil {
		defer c.mu.Unlock()
		return c.blockLocked(stepDispatch, err)
	}

	c.retries = 0
	c.emit(Event{Type: EventSectionSubmitted, SectionIndex: idx})
	last := idx == c.sub.SectionCount-1
	c.mu.Unlock()

	if last {
		return c.finalize(ctx)
	}

	return c.loadSection(ctx, idx+1)
}

// finalize отправляет все секции на оценку.
func (c *Controller) finalize(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateSectionSubmitting && c.state != StateFinalizing {
		c.mu.Unlock()
		return ErrAbandoned
	}

	c.state = StateFinalizing
	c.emit(Event{Type: EventFinalizing, SectionIndex: c.sectionIdx})

	sub := *c.sub
	batches := append([]models.SectionSubmitBatch(nil), c.batches...)
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	updated, result, err := c.pipeline.SubmitFinal(opCtx, sub, batches)
	done()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateFinalizing {
		return ErrAbandoned
	}

	*c.sub = updated

	if err != nil {
		return c.blockLocked(stepFinal, err)
	}

	c.result = result
	c.state = StateGraded
	c.metrics.SessionFinished("graded")
	c.emit(Event{Type: EventGraded, SectionIndex: c.sectionIdx})

	return nil
}

// blockLocked оставляет сессию в текущем состоянии до Retry.
func (c *Controller) blockLocked(s step, err error) error {
	c.pending = s
	c.lastErr = err

	if s == stepStart || s == stepFetch {
		c.metrics.Failure(s.stage())
	}

	c.log.Warn("session blocked",
		slog.String("stage", s.stage()),
		slog.String("state", c.state.String()),
		slog.String("error", err.Error()),
	)
	c.emit(Event{Type: EventBlocked, SectionIndex: c.sectionIdx, Err: err})

	return err
}

func (c *Controller) abandonLocked(reason string) {
	c.state = StateAbandoned
	c.pending = stepNone

	if c.timer != nil {
		c.timer.Stop()
	}
	c.cancel()

	c.metrics.SessionFinished("abandoned")
	c.log.Info("session abandoned", slog.String("reason", reason))

	c.emit(Event{Type: EventAbandoned, SectionIndex: c.sectionIdx, Reason: reason})
	c.closeEvents()
}

// opContext возвращает контекст сетевого вызова, который отменяется и родителем, и Exit.
func (c *Controller) opContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(c.ctx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

// emit отправляет событие, не блокируясь. При полном буфере событие теряется.
func (c *Controller) emit(e Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.events <- e:
	default:
		c.log.Warn("session event dropped", slog.String("type", string(e.Type)))
	}
}

func (c *Controller) closeEvents() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.events)
}
