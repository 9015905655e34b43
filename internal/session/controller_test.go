package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsssgooo/examSession/internal/domain/models"
	"github.com/letsssgooo/examSession/internal/lib/idempotency"
	"github.com/letsssgooo/examSession/internal/navigation"
	"github.com/letsssgooo/examSession/internal/security"
	"github.com/letsssgooo/examSession/internal/submission"
	"github.com/letsssgooo/examSession/internal/timer"
)

const waitTimeout = 2 * time.Second

// fakeTicker отдает тики только когда тест их отправляет.
type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() { f.stopped.Store(true) }

func (f *fakeTicker) tick(t *testing.T) {
	t.Helper()

	select {
	case f.ch <- time.Now():
	case <-time.After(waitTimeout):
		t.Fatal("timer did not consume tick")
	}
}

func (f *fakeTicker) ticks(t *testing.T, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		f.tick(t)
	}
}

// permanentErr ведет себя как ответ 4xx.
type permanentErr struct{}

func (permanentErr) Error() string   { return "bad request" }
func (permanentErr) Retryable() bool { return false }

type fakeCatalog struct {
	sections  map[int]*models.SectionTest
	startErrs []error
	fetchErrs map[int][]error

	startCalls  int
	fetchOrders []int
	mu          sync.Mutex
}

func (f *fakeCatalog) StartAssessment(_ context.Context, assessmentID, userID string) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.startCalls++
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		return nil, err
	}

	return &models.Submission{
		ID:           "sub-1",
		AssessmentID: assessmentID,
		UserID:       userID,
		StartedAt:    time.Now(),
		Status:       models.StatusInProgress,
		SectionCount: len(f.sections),
	}, nil
}

func (f *fakeCatalog) GetSectionQuestions(_ context.Context, _ string, order int) (*models.SectionTest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchOrders = append(f.fetchOrders, order)
	if errs := f.fetchErrs[order]; len(errs) > 0 {
		f.fetchErrs[order] = errs[1:]
		return nil, errs[0]
	}

	section, ok := f.sections[order]
	if !ok {
		return nil, fmt.Errorf("section %d not found", order)
	}

	copied := *section

	return &copied, nil
}

func (f *fakeCatalog) fetches() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int(nil), f.fetchOrders...)
}

func (f *fakeCatalog) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.startCalls
}

type fakeGrading struct {
	result     models.GradingResult
	submitErrs []error
	saveErrs   []error
	saveBlock  bool

	saved     []models.SectionSubmitBatch
	submitted [][]models.SectionSubmitBatch
	keys      []string
	mu        sync.Mutex
}

func (f *fakeGrading) SaveSection(ctx context.Context, _ string, batch models.SectionSubmitBatch) error {
	f.mu.Lock()
	block := f.saveBlock
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.saveErrs) > 0 {
		err := f.saveErrs[0]
		f.saveErrs = f.saveErrs[1:]
		return err
	}

	f.saved = append(f.saved, batch)

	return nil
}

func (f *fakeGrading) SubmitAssessment(
	ctx context.Context,
	_ string,
	batches []models.SectionSubmitBatch,
) (*models.GradingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitted = append(f.submitted, batches)
	f.keys = append(f.keys, idempotency.Key(ctx))

	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return nil, err
	}

	result := f.result

	return &result, nil
}

func (f *fakeGrading) GetSubmission(_ context.Context, _ string) (*models.Submission, error) {
	return nil, errors.New("not found")
}

func (f *fakeGrading) savedBatches() []models.SectionSubmitBatch {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]models.SectionSubmitBatch(nil), f.saved...)
}

type countingPermission struct {
	answers []bool
	calls   atomic.Int32
}

func (p *countingPermission) Request(_ context.Context) (bool, error) {
	n := int(p.calls.Add(1)) - 1
	if n < len(p.answers) {
		return p.answers[n], nil
	}

	return true, nil
}

type fixture struct {
	ctrl       *Controller
	catalog    *fakeCatalog
	grading    *fakeGrading
	permission *countingPermission
	tickers    chan *fakeTicker
	seen       []Event
}

func twoSections() map[int]*models.SectionTest {
	return map[int]*models.SectionTest{
		1: {
			SectionID:       "s1",
			SectionName:     "Основы",
			SectionOrder:    1,
			DurationSeconds: 60,
			Questions: []models.TestQuestion{
				{ID: "q1", Type: models.QuestionSingleChoice, Points: 2},
				{ID: "q2", Type: models.QuestionShortAnswer, Points: 3},
				{ID: "q3", Type: models.QuestionTrueFalse, Points: 5},
			},
		},
		2: {
			SectionID:       "s2",
			SectionName:     "Код",
			SectionOrder:    2,
			DurationSeconds: 90,
			Questions: []models.TestQuestion{
				{ID: "q4", Type: models.QuestionCoding, Points: 10},
			},
		},
	}
}

func newFixture(t *testing.T, sections map[int]*models.SectionTest, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		catalog:    &fakeCatalog{sections: sections, fetchErrs: make(map[int][]error)},
		grading:    &fakeGrading{result: models.GradingResult{SubmissionID: "sub-1", TotalScore: 7, MaxScore: 10}},
		permission: &countingPermission{},
		tickers:    make(chan *fakeTicker, 8),
	}

	opts = append([]Option{
		WithTimerOptions(timer.WithTickSource(func() timer.TickSource {
			ft := &fakeTicker{ch: make(chan time.Time)}
			f.tickers <- ft
			return ft
		})),
		WithPipelineOptions(submission.WithRetryPolicy(submission.RetryPolicy{
			Attempts:        2,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		})),
	}, opts...)

	f.ctrl = New("a-1", "u-1", Deps{
		Permission: f.permission,
		Catalog:    f.catalog,
		Grading:    f.grading,
	}, opts...)

	t.Cleanup(func() {
		_ = f.ctrl.Exit()
	})

	return f
}

func (f *fixture) ticker(t *testing.T) *fakeTicker {
	t.Helper()

	select {
	case ft := <-f.tickers:
		return ft
	case <-time.After(waitTimeout):
		t.Fatal("section timer was not started")
		return nil
	}
}

// waitEvent читает события, пока не встретит typ для секции idx.
func (f *fixture) waitEvent(t *testing.T, typ EventType, idx int) Event {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case e, ok := <-f.ctrl.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", typ)
			}
			f.seen = append(f.seen, e)
			if e.Type == typ && e.SectionIndex == idx {
				return e
			}
		case <-deadline:
			t.Fatalf("event %s for section %d was not emitted", typ, idx)
			return Event{}
		}
	}
}

// drain дочитывает события до закрытия канала.
func (f *fixture) drain(t *testing.T) {
	t.Helper()

	deadline := time.After(waitTimeout)
	for {
		select {
		case e, ok := <-f.ctrl.Events():
			if !ok {
				return
			}
			f.seen = append(f.seen, e)
		case <-deadline:
			t.Fatal("events channel was not closed")
		}
	}
}

func (f *fixture) seenType(typ EventType) int {
	count := 0
	for _, e := range f.seen {
		if e.Type == typ {
			count++
		}
	}

	return count
}

func TestExpiry_SubmitsSentinelForUnanswered(t *testing.T) {
	f := newFixture(t, twoSections())

	require.NoError(t, f.ctrl.Begin(context.Background()))
	first := f.ticker(t)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateSectionActive, view.State)
	assert.Equal(t, 0, view.SectionIndex)
	assert.Equal(t, 2, view.SectionCount)
	assert.Equal(t, 60, view.Remaining)

	require.NoError(t, f.ctrl.SetAnswer("q1", models.AnswerPayload{OptionIDs: []string{"b"}}))
	require.NoError(t, f.ctrl.SetAnswer("q2", models.AnswerPayload{Text: "Москва"}))

	first.ticks(t, 60)

	expired := f.waitEvent(t, EventSectionSubmitting, 0)
	assert.Equal(t, ReasonExpired, expired.Reason)

	started := f.waitEvent(t, EventSectionStarted, 1)
	assert.Equal(t, 90, started.Remaining)
	assert.Equal(t, 1, f.seenType(EventSectionExpired))
	assert.Equal(t, 60, f.seenType(EventTick))

	saved := f.grading.savedBatches()
	require.Len(t, saved, 1)

	batch := saved[0]
	assert.Equal(t, 1, batch.SectionOrder)
	require.Len(t, batch.Answers, 3)
	assert.Equal(t, 2, batch.AnsweredCount())
	assert.Equal(t, models.UnansweredEntry("q3"), batch.Answers[2])

	view = f.ctrl.Snapshot()
	assert.Equal(t, StateSectionActive, view.State)
	assert.Equal(t, 1, view.SectionIndex)
	assert.Equal(t, "Код", view.SectionName)
	assert.Equal(t, 90, view.Remaining)
}

func TestSubmitSection_ManualStopsTimer(t *testing.T) {
	f := newFixture(t, twoSections())

	require.NoError(t, f.ctrl.Begin(context.Background()))
	first := f.ticker(t)

	first.ticks(t, 15)
	f.waitEvent(t, EventTick, 0)
	require.Eventually(t, func() bool {
		return f.ctrl.Snapshot().Remaining == 45
	}, waitTimeout, time.Millisecond)

	require.NoError(t, f.ctrl.SubmitSection(context.Background()))

	// Горутина первого таймера завершилась без истечения
	require.Eventually(t, first.stopped.Load, waitTimeout, time.Millisecond)

	second := f.ticker(t)
	started := f.waitEvent(t, EventSectionStarted, 1)
	assert.Equal(t, 90, started.Remaining)
	assert.Equal(t, 0, f.seenType(EventSectionExpired))

	view := f.ctrl.Snapshot()
	assert.Equal(t, 1, view.SectionIndex)
	assert.Equal(t, 90, view.Remaining)

	second.tick(t)
	tick := f.waitEvent(t, EventTick, 1)
	assert.Equal(t, 89, tick.Remaining)

	err := f.ctrl.submitSection(context.Background(), 0, ReasonExpired)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, f.grading.savedBatches(), 1)
}

func TestFinalize_Graded(t *testing.T) {
	f := newFixture(t, twoSections())

	require.NoError(t, f.ctrl.Begin(context.Background()))
	require.NoError(t, f.ctrl.SubmitSection(context.Background()))
	require.NoError(t, f.ctrl.SetAnswer("q4", models.AnswerPayload{Language: "go", Code: "package main"}))
	require.NoError(t, f.ctrl.SubmitSection(context.Background()))

	f.waitEvent(t, EventFinalizing, 1)
	f.waitEvent(t, EventGraded, 1)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateGraded, view.State)
	require.NotNil(t, view.Result)
	assert.Equal(t, 70.0, view.Result.Percentage)
	require.NotNil(t, view.Submission)
	assert.Equal(t, models.StatusGraded, view.Submission.Status)
	assert.Equal(t, 70.0, view.Submission.Percentage)
	assert.NotNil(t, view.Submission.SubmittedAt)
	assert.False(t, view.Submitting)

	f.grading.mu.Lock()
	require.Len(t, f.grading.submitted, 1)
	sent := f.grading.submitted[0]
	f.grading.mu.Unlock()

	require.Len(t, sent, 2)
	assert.Equal(t, 1, sent[0].SectionOrder)
	assert.Equal(t, 2, sent[1].SectionOrder)
	assert.Equal(t, 1, sent[1].AnsweredCount())

	assert.ErrorIs(t, f.ctrl.Exit(), ErrInvalidTransition)
	require.NoError(t, f.ctrl.Close())
	f.drain(t)
	assert.Equal(t, StateClosed, f.ctrl.Snapshot().State)
}

func TestFinalize_ZeroMaxScore(t *testing.T) {
	f := newFixture(t, twoSections())
	f.grading.result = models.GradingResult{SubmissionID: "sub-1", TotalScore: 0, MaxScore: 0}

	require.NoError(t, f.ctrl.Begin(context.Background()))
	require.NoError(t, f.ctrl.SubmitSection(context.Background()))
	require.NoError(t, f.ctrl.SubmitSection(context.Background()))

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateGraded, view.State)
	assert.Equal(t, 0.0, view.Result.Percentage)
	assert.Equal(t, models.StatusGraded, view.Submission.Status)
}

func TestSubmitSection_ExpiryRaceSubmitsOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		sections := twoSections()
		sections[1].DurationSeconds = 1

		f := newFixture(t, sections)
		require.NoError(t, f.ctrl.Begin(context.Background()))
		first := f.ticker(t)

		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()

			// Таймер может быть уже остановлен ручной отправкой
			select {
			case first.ch <- time.Now():
			case <-time.After(100 * time.Millisecond):
			}
		}()

		var manualErr error
		go func() {
			defer wg.Done()
			manualErr = f.ctrl.submitSection(context.Background(), 0, ReasonManual)
		}()

		wg.Wait()
		require.Eventually(t, first.stopped.Load, waitTimeout, time.Millisecond)
		f.waitEvent(t, EventSectionStarted, 1)

		if manualErr != nil {
			assert.True(t,
				errors.Is(manualErr, ErrSubmissionInFlight) || errors.Is(manualErr, ErrInvalidTransition),
				"unexpected error: %v", manualErr)
		}

		saved := f.grading.savedBatches()
		require.Len(t, saved, 1, "iteration %d", i)
		assert.Equal(t, 1, saved[0].SectionOrder)
		assert.Equal(t, 1, f.seenType(EventSectionSubmitting))

		require.NoError(t, f.ctrl.Exit())
	}
}

func TestSubmitSection_ManualErrorAfterExpiry(t *testing.T) {
	sections := twoSections()
	sections[1].DurationSeconds = 0

	f := newFixture(t, sections)
	require.NoError(t, f.ctrl.Begin(context.Background()))

	f.waitEvent(t, EventSectionStarted, 1)

	err := f.ctrl.submitSection(context.Background(), 0, ReasonManual)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Len(t, f.grading.savedBatches(), 1)
}

func TestPermission_DeniedThenCancel(t *testing.T) {
	f := newFixture(t, twoSections())
	f.permission.answers = []bool{false}

	err := f.ctrl.Begin(context.Background())
	assert.ErrorIs(t, err, security.ErrPermissionDenied)
	f.waitEvent(t, EventPermissionDenied, 0)

	assert.Equal(t, StateSecurityPending, f.ctrl.Snapshot().State)

	require.NoError(t, f.ctrl.CancelPermission())
	f.drain(t)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateAbandoned, view.State)
	assert.Nil(t, view.Submission)
	assert.Equal(t, 0, f.catalog.starts())
	assert.Equal(t, 1, f.seenType(EventAbandoned))

	assert.ErrorIs(t, f.ctrl.RetryPermission(context.Background()), ErrInvalidTransition)
}

func TestPermission_DeniedThenRetry(t *testing.T) {
	f := newFixture(t, twoSections())
	f.permission.answers = []bool{false, true}

	assert.ErrorIs(t, f.ctrl.Begin(context.Background()), security.ErrPermissionDenied)
	assert.Equal(t, 0, f.catalog.starts())

	require.NoError(t, f.ctrl.RetryPermission(context.Background()))
	f.ticker(t)

	assert.Equal(t, StateSectionActive, f.ctrl.Snapshot().State)
	assert.Equal(t, 1, f.catalog.starts())
	assert.Equal(t, int32(2), f.permission.calls.Load())

	assert.ErrorIs(t, f.ctrl.CancelPermission(), ErrInvalidTransition)
}

func TestBegin_Twice(t *testing.T) {
	f := newFixture(t, twoSections())

	require.NoError(t, f.ctrl.Begin(context.Background()))
	assert.ErrorIs(t, f.ctrl.Begin(context.Background()), ErrInvalidTransition)
}

func TestRetry_StartFailure(t *testing.T) {
	f := newFixture(t, twoSections())
	f.catalog.startErrs = []error{errors.New("connection refused")}

	err := f.ctrl.Begin(context.Background())
	require.Error(t, err)
	f.waitEvent(t, EventBlocked, 0)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateSecurityPending, view.State)
	assert.True(t, view.Blocked)
	assert.Nil(t, view.Submission)

	require.NoError(t, f.ctrl.Retry(context.Background()))
	assert.Equal(t, StateSectionActive, f.ctrl.Snapshot().State)
	assert.Equal(t, int32(1), f.permission.calls.Load())
}

func TestRetry_FetchFailure(t *testing.T) {
	f := newFixture(t, twoSections())
	f.catalog.fetchErrs[1] = []error{errors.New("503")}

	err := f.ctrl.Begin(context.Background())
	assert.ErrorIs(t, err, ErrCatalogFetchFailed)
	f.waitEvent(t, EventBlocked, 0)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateSecurityPending, view.State)
	assert.True(t, view.Blocked)
	assert.ErrorIs(t, view.LastErr, ErrCatalogFetchFailed)
	assert.ErrorIs(t, f.ctrl.SetAnswer("q1", models.AnswerPayload{Text: "x"}), ErrInvalidTransition)

	require.NoError(t, f.ctrl.Retry(context.Background()))
	f.ticker(t)

	view = f.ctrl.Snapshot()
	assert.Equal(t, StateSectionActive, view.State)
	assert.False(t, view.Blocked)
	assert.Nil(t, view.LastErr)

	// Попытка создана один раз, разрешение не спрашивали повторно
	assert.Equal(t, 1, f.catalog.starts())
	assert.Equal(t, int32(1), f.permission.calls.Load())

	assert.ErrorIs(t, f.ctrl.Retry(context.Background()), ErrInvalidTransition)
}

func TestRetry_NextSectionFetchFailure(t *testing.T) {
	f := newFixture(t, twoSections())
	f.catalog.fetchErrs[2] = []error{errors.New("timeout")}

	require.NoError(t, f.ctrl.Begin(context.Background()))
	first := f.ticker(t)

	err := f.ctrl.SubmitSection(context.Background())
	assert.ErrorIs(t, err, ErrCatalogFetchFailed)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateSectionSubmitting, view.State)
	assert.Equal(t, 0, view.SectionIndex)
	assert.True(t, view.Blocked)
	assert.True(t, view.Submitting)
	require.Eventually(t, first.stopped.Load, waitTimeout, time.Millisecond)

	require.NoError(t, f.ctrl.Retry(context.Background()))
	f.ticker(t)

	assert.Equal(t, 1, f.ctrl.Snapshot().SectionIndex)
	assert.Equal(t, []int{1, 2, 2}, f.catalog.fetchOrders)
	assert.Len(t, f.grading.savedBatches(), 1)
}

func TestRetry_DispatchFailureHoldsNextSection(t *testing.T) {
	f := newFixture(t, twoSections())
	f.grading.saveErrs = []error{errors.New("save unavailable"), errors.New("save unavailable")}

	require.NoError(t, f.ctrl.Begin(context.Background()))
	f.ticker(t)

	err := f.ctrl.SubmitSection(context.Background())
	require.ErrorIs(t, err, submission.ErrSubmissionFailed)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateSectionSubmitting, view.State)
	assert.True(t, view.Blocked)
	assert.Equal(t, 0, view.SectionIndex)
	assert.Equal(t, []int{1}, f.catalog.fetches())

	assert.ErrorIs(t, f.ctrl.SetAnswer("q1", models.AnswerPayload{OptionIDs: []string{"a"}}), ErrSubmissionInFlight)

	require.NoError(t, f.ctrl.Retry(context.Background()))
	f.ticker(t)

	view = f.ctrl.Snapshot()
	assert.Equal(t, StateSectionActive, view.State)
	assert.Equal(t, 1, view.SectionIndex)
	assert.False(t, view.Blocked)
	assert.Equal(t, []int{1, 2}, f.catalog.fetches())
	require.Len(t, f.grading.savedBatches(), 1)
	assert.Equal(t, 1, f.grading.savedBatches()[0].SectionOrder)
}

func TestRetry_Limit(t *testing.T) {
	f := newFixture(t, twoSections(), WithRetryLimit(1))
	f.catalog.fetchErrs[1] = []error{errors.New("e1"), errors.New("e2"), errors.New("e3")}

	assert.ErrorIs(t, f.ctrl.Begin(context.Background()), ErrCatalogFetchFailed)
	assert.ErrorIs(t, f.ctrl.Retry(context.Background()), ErrCatalogFetchFailed)
	assert.ErrorIs(t, f.ctrl.Retry(context.Background()), ErrRetryLimit)

	assert.True(t, f.ctrl.Snapshot().Blocked)
}

func TestRetry_FinalSubmitKeepsAnswers(t *testing.T) {
	f := newFixture(t, twoSections())
	f.grading.submitErrs = []error{permanentErr{}}

	require.NoError(t, f.ctrl.Begin(context.Background()))
	require.NoError(t, f.ctrl.SetAnswer("q1", models.AnswerPayload{OptionIDs: []string{"a"}}))
	require.NoError(t, f.ctrl.SubmitSection(context.Background()))
	require.NoError(t, f.ctrl.SetAnswer("q4", models.AnswerPayload{Language: "go", Code: "x := 1"}))

	err := f.ctrl.SubmitSection(context.Background())
	assert.ErrorIs(t, err, submission.ErrSubmissionFailed)

	view := f.ctrl.Snapshot()
	assert.Equal(t, StateFinalizing, view.State)
	assert.True(t, view.Blocked)
	assert.True(t, view.Submitting)
	assert.Nil(t, view.Result)

	assert.ErrorIs(t, f.ctrl.SetAnswer("q4", models.AnswerPayload{Code: "y"}), ErrSubmissionInFlight)
	assert.ErrorIs(t, f.ctrl.SubmitSection(context.Background()), ErrInvalidTransition)

	require.NoError(t, f.ctrl.Retry(context.Background()))
	assert.Equal(t, StateGraded, f.ctrl.Snapshot().State)

	f.grading.mu.Lock()
	defer f.grading.mu.Unlock()

	require.Len(t, f.grading.submitted, 2)
	assert.Equal(t, f.grading.submitted[0], f.grading.submitted[1])
	assert.Equal(t, "a", f.grading.submitted[1][0].Answers[0].Payload.OptionIDs[0])
	assert.Equal(t, "x := 1", f.grading.submitted[1][1].Answers[0].Payload.Code)
	assert.NotEmpty(t, f.grading.keys[0])
	assert.Equal(t, f.grading.keys[0], f.grading.keys[1])
}

func TestExit_StopsTimer(t *testing.T) {
	f := newFixture(t, twoSections())

	require.NoError(t, f.ctrl.Begin(context.Background()))
	first := f.ticker(t)

	require.NoError(t, f.ctrl.Exit())
	require.Eventually(t, first.stopped.Load, waitTimeout, time.Millisecond)
	f.drain(t)

	assert.Equal(t, 1, f.seenType(EventAbandoned))
	assert.Equal(t, StateAbandoned, f.ctrl.Snapshot().State)

	assert.ErrorIs(t, f.ctrl.SetAnswer("q1", models.AnswerPayload{Text: "x"}), ErrAbandoned)
	assert.ErrorIs(t, f.ctrl.SubmitSection(context.Background()), ErrAbandoned)
	assert.ErrorIs(t, f.ctrl.Retry(context.Background()), ErrAbandoned)
	assert.NoError(t, f.ctrl.Exit())
	assert.Empty(t, f.grading.savedBatches())
}

func TestExit_CancelsInFlightDispatch(t *testing.T) {
	f := newFixture(t, twoSections())
	f.grading.saveBlock = true

	require.NoError(t, f.ctrl.Begin(context.Background()))

	done := make(chan error, 1)
	go func() {
		done <- f.ctrl.SubmitSection(context.Background())
	}()

	f.waitEvent(t, EventSectionSubmitting, 0)
	require.NoError(t, f.ctrl.Exit())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAbandoned)
	case <-time.After(waitTimeout):
		t.Fatal("dispatch was not cancelled")
	}

	assert.Equal(t, StateAbandoned, f.ctrl.Snapshot().State)
	assert.Equal(t, []int{1}, f.catalog.fetchOrders)
}

func TestSetAnswerAndNavigation(t *testing.T) {
	f := newFixture(t, twoSections())

	require.NoError(t, f.ctrl.Begin(context.Background()))

	assert.ErrorIs(t, f.ctrl.SetAnswer("q4", models.AnswerPayload{Code: "x"}), ErrUnknownQuestion)

	require.NoError(t, f.ctrl.SetAnswer("q2", models.AnswerPayload{Text: "first"}))
	require.NoError(t, f.ctrl.SetAnswer("q2", models.AnswerPayload{Text: "second"}))

	require.NoError(t, f.ctrl.GoTo(1))
	view := f.ctrl.Snapshot()
	assert.Equal(t, 1, view.QuestionIndex)
	require.NotNil(t, view.Question)
	assert.Equal(t, "q2", view.Question.ID)
	require.NotNil(t, view.Answer)
	assert.Equal(t, "second", view.Answer.Text)
	assert.Equal(t, 1, view.Answered)
	assert.Equal(t, 3, view.Total)

	assert.ErrorIs(t, f.ctrl.GoTo(3), navigation.ErrInvalidNavigation)
	assert.ErrorIs(t, f.ctrl.GoTo(-1), navigation.ErrInvalidNavigation)
	assert.Equal(t, 1, f.ctrl.Snapshot().QuestionIndex)

	require.NoError(t, f.ctrl.GoTo(0))
	badges := f.ctrl.Snapshot().Badges
	require.Len(t, badges, 3)
	assert.Equal(t, navigation.BadgeCurrent, badges[0].State)
	assert.Equal(t, navigation.BadgeAnswered, badges[1].State)
	assert.Equal(t, navigation.BadgeUnanswered, badges[2].State)

	require.NoError(t, f.ctrl.ClearAnswer("q2"))
	assert.Equal(t, 0, f.ctrl.Snapshot().Answered)
}

func TestLoadSection_OrderMismatch(t *testing.T) {
	sections := twoSections()
	sections[1].SectionOrder = 2

	f := newFixture(t, sections)

	err := f.ctrl.Begin(context.Background())
	assert.ErrorIs(t, err, ErrCatalogFetchFailed)
	assert.Equal(t, StateSecurityPending, f.ctrl.Snapshot().State)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "section_active", StateSectionActive.String())
	assert.Equal(t, "unknown", State(100).String())
	assert.True(t, StateAbandoned.Terminal())
	assert.False(t, StateGraded.Terminal())
}
