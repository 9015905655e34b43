package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/letsssgooo/examSession/internal/domain/models"
	"github.com/letsssgooo/examSession/internal/navigation"
	"github.com/letsssgooo/examSession/internal/report"
	"github.com/letsssgooo/examSession/internal/security"
	"github.com/letsssgooo/examSession/internal/session"
	"github.com/letsssgooo/examSession/internal/storage"
)

// Session — операции контроллера, которыми пользуется консоль.
type Session interface {
	Events() <-chan session.Event
	Begin(ctx context.Context) error
	RetryPermission(ctx context.Context) error
	CancelPermission() error
	SetAnswer(questionID string, payload models.AnswerPayload) error
	ClearAnswer(questionID string) error
	GoTo(index int) error
	SubmitSection(ctx context.Context) error
	Retry(ctx context.Context) error
	Exit() error
	Close() error
	Snapshot() session.View
}

// Option настраивает Runner.
type Option func(*Runner)

// WithStorage задает архив оцененных попыток.
func WithStorage(store storage.Storage) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithReportPath включает выгрузку CSV-отчета после оценки.
func WithReportPath(path string) Option {
	return func(r *Runner) {
		r.reportPath = path
	}
}

// WithLogger задает логгер.
func WithLogger(log *slog.Logger) Option {
	return func(r *Runner) {
		r.log = log
	}
}

// WithoutColor отключает раскраску вывода.
func WithoutColor() Option {
	return func(r *Runner) {
		r.colorize = false
	}
}

// Runner ведет кандидата по сессии в терминале.
type Runner struct {
	session    Session
	lines      <-chan string
	out        io.Writer
	store      storage.Storage
	reportPath string
	log        *slog.Logger
	colorize   bool
}

// NewRunner создаёт Runner. lines должен быть тем же потоком, из которого читает Prompt.
func NewRunner(s Session, lines <-chan string, out io.Writer, opts ...Option) *Runner {
	r := &Runner{
		session:  s,
		lines:    lines,
		out:      out,
		log:      slog.Default(),
		colorize: true,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run проводит сессию до закрытия или прерывания.
// Конец ввода и отмена ctx прерывают сессию.
func (r *Runner) Run(ctx context.Context) error {
	r.println(msgWelcome)

	r.handleErr(r.session.Begin(ctx))

	events := r.session.Events()
	lines := r.lines

	for {
		select {
		case <-ctx.Done():
			if err := r.session.Exit(); err == nil {
				r.drain(ctx, events)
			}
			return ctx.Err()

		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.handleEvent(ctx, e)

		case line, ok := <-lines:
			if !ok {
				lines = nil
				r.log.Debug("input closed, leaving session")
				if err := r.session.Exit(); err != nil {
					r.log.Debug("exit after input closed", slog.String("error", err.Error()))
				}
				continue
			}
			r.handleLine(ctx, line)
		}
	}
}

// drain выводит события, оставшиеся в буфере после выхода.
func (r *Runner) drain(ctx context.Context, events <-chan session.Event) {
	for e := range events {
		r.handleEvent(ctx, e)
	}
}

func (r *Runner) handleEvent(ctx context.Context, e session.Event) {
	view := r.session.Snapshot()
	order := e.SectionIndex + 1

	switch e.Type {
	case session.EventPermissionDenied:
		r.println(msgPermissionDenied)

	case session.EventSectionStarted:
		r.printf(msgSectionStarted, order, view.SectionCount, view.SectionName, view.Total, formatDuration(e.Remaining))
		r.showQuestion(view)

	case session.EventTick:
		if shouldRender(e.Remaining) {
			r.printTime(e.Remaining)
		}

	case session.EventSectionExpired:
		r.printf(msgSectionExpired, order)

	case session.EventSectionSubmitting:
		r.printf(msgSectionSubmitting, order)

	case session.EventSectionSubmitted:
		r.printf(msgSectionSubmitted, order)

	case session.EventBlocked:
		r.printf(msgBlocked, e.Err)

	case session.EventFinalizing:
		r.println(msgFinalizing)

	case session.EventGraded:
		r.onGraded(ctx, view)

	case session.EventAbandoned:
		r.println(msgAbandoned)

	case session.EventClosed:
		r.println(msgClosed)
	}
}

// shouldRender ограничивает вывод тиков: раз в 30 секунд и каждую секунду в конце.
func shouldRender(remaining int) bool {
	return remaining <= criticalThreshold || remaining == warningThreshold || remaining%30 == 0
}

func (r *Runner) onGraded(ctx context.Context, view session.View) {
	result := view.Result
	if result == nil || view.Submission == nil {
		r.log.Error("graded event without result")
		return
	}

	r.printf(msgGraded, formatScore(result.TotalScore), formatScore(result.MaxScore), formatScore(result.Percentage))
	for _, q := range result.Questions {
		mark := r.paint(color.FgRed, "✗")
		if q.IsCorrect {
			mark = r.paint(color.FgGreen, "✓")
		}
		r.printf("  %s %s: %s/%d", mark, q.QuestionID, formatScore(q.PointsEarned), q.MaxPoints)
	}

	if r.reportPath != "" {
		if err := report.WriteCSV(r.reportPath, result); err != nil {
			r.log.Error("failed to export report", slog.String("error", err.Error()))
		} else {
			r.printf(msgReportSaved, r.reportPath)
		}
	}

	if r.store != nil {
		rec := report.NewRecord(*view.Submission, result)
		if err := r.store.SaveResult(ctx, &rec); err != nil {
			r.log.Error("failed to archive result",
				slog.String("submission_id", rec.SubmissionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := r.session.Close(); err != nil {
		r.log.Error("failed to close session", slog.String("error", err.Error()))
	}
}

func (r *Runner) handleLine(ctx context.Context, line string) {
	command, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	args = strings.TrimSpace(args)

	switch strings.ToLower(command) {
	case "":
		return

	case "help":
		r.println(msgHelp)

	case "show":
		r.showQuestion(r.session.Snapshot())

	case "goto":
		n, err := strconv.Atoi(args)
		if err != nil {
			r.printf(msgError, fmt.Errorf("%w: %q", navigation.ErrInvalidNavigation, args))
			return
		}
		if err := r.session.GoTo(n - 1); err != nil {
			r.handleErr(err)
			return
		}
		r.showQuestion(r.session.Snapshot())

	case "answer":
		r.answer(args)

	case "clear":
		view := r.session.Snapshot()
		if view.Question == nil {
			r.println(msgNoQuestion)
			return
		}
		if err := r.session.ClearAnswer(view.Question.ID); err != nil {
			r.handleErr(err)
			return
		}
		r.println(msgAnswerCleared)

	case "submit":
		r.handleErr(r.session.SubmitSection(ctx))

	case "retry":
		if r.permissionPending() {
			r.handleErr(r.session.RetryPermission(ctx))
			return
		}
		r.handleErr(r.session.Retry(ctx))

	case "cancel":
		r.handleErr(r.session.CancelPermission())

	case "exit":
		r.handleErr(r.session.Exit())

	default:
		r.println(msgUnknownCommand)
	}
}

func (r *Runner) answer(args string) {
	view := r.session.Snapshot()
	if view.Question == nil {
		r.println(msgNoQuestion)
		return
	}

	payload, err := ParseAnswer(*view.Question, args)
	if err != nil {
		r.printf(msgError, err)
		return
	}

	if err := r.session.SetAnswer(view.Question.ID, payload); err != nil {
		r.handleErr(err)
		return
	}

	r.println(msgAnswerAcceptance)
}

// permissionPending сообщает, что сессия ждет решения после отказа в захвате экрана.
func (r *Runner) permissionPending() bool {
	view := r.session.Snapshot()
	return view.State == session.StateSecurityPending && !view.Blocked
}

// handleErr печатает ошибки, о которых не сообщают события сессии.
func (r *Runner) handleErr(err error) {
	if err == nil {
		return
	}

	r.log.Debug("command failed", slog.String("error", err.Error()))

	if errors.Is(err, security.ErrPermissionDenied) || errors.Is(err, session.ErrAbandoned) {
		return
	}

	// Ошибку заблокированного шага уже показало событие blocked
	if last := r.session.Snapshot().LastErr; last != nil && errors.Is(err, last) {
		return
	}

	r.printf(msgError, err)
}

func (r *Runner) showQuestion(view session.View) {
	q := view.Question
	if q == nil {
		r.println(msgNoQuestion)
		return
	}

	r.printf("\n[%d/%d] %s (%d б.)", view.QuestionIndex+1, view.Total, q.Prompt, q.Points)

	options, err := q.Options()
	if err != nil {
		r.log.Warn("failed to render options", slog.String("question_id", q.ID), slog.String("error", err.Error()))
	}
	for i, o := range options {
		r.printf("  %s) %s", IndexToLetter(i), o.Text)
	}

	if view.Answer != nil {
		r.printf("Ваш ответ: %s", view.Answer.String())
	}

	r.println(r.renderBadges(view.Badges))
	r.printTime(view.Remaining)
}

func (r *Runner) renderBadges(badges []navigation.Badge) string {
	var b strings.Builder

	for i, badge := range badges {
		if i > 0 {
			b.WriteString(" ")
		}

		label := strconv.Itoa(badge.Index + 1)
		switch badge.State {
		case navigation.BadgeCurrent:
			b.WriteString(r.paint(color.FgCyan, "["+label+"]"))
		case navigation.BadgeAnswered:
			b.WriteString(r.paint(color.FgGreen, label+"+"))
		default:
			b.WriteString(label)
		}
	}

	return b.String()
}

func (r *Runner) printTime(remaining int) {
	level := Band(remaining)
	r.println(r.paint(level.color(), fmt.Sprintf(msgTimeLeft, formatDuration(remaining))))
}

func (r *Runner) paint(attr color.Attribute, s string) string {
	if !r.colorize {
		return s
	}

	painter := color.New(attr)
	painter.EnableColor()

	return painter.Sprint(s)
}

func (r *Runner) println(s string) {
	fmt.Fprintln(r.out, s)
}

func (r *Runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
