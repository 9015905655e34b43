package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Ошибки доступа
var (
	ErrPermissionDenied = errors.New("screen sharing permission denied")
	ErrInvalidState     = errors.New("operation is not allowed in current gate state")
)

// Permission — внешняя граница, которая выдает или не выдает доступ к захвату экрана.
type Permission interface {
	// Request блокируется до ответа кандидата.
	// Возвращает true только при явном разрешении.
	Request(ctx context.Context) (bool, error)
}

// PermissionFunc позволяет использовать функцию как Permission.
type PermissionFunc func(ctx context.Context) (bool, error)

// Request вызывает f.
func (f PermissionFunc) Request(ctx context.Context) (bool, error) {
	return f(ctx)
}

// State — состояние шлюза.
type State int

const (
	StateIdle State = iota
	StatePermissionPrompt
	StateGranted
	StateDenied
	StateRetryPrompt
	StateAbandoned
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StatePermissionPrompt: "permission_prompt",
	StateGranted:          "granted",
	StateDenied:           "denied",
	StateRetryPrompt:      "retry_prompt",
	StateAbandoned:        "abandoned",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Option настраивает Gate.
type Option func(*Gate)

// WithObserver подписывает функцию на все переходы шлюза.
func WithObserver(observer func(from, to State)) Option {
	return func(g *Gate) {
		g.observer = observer
	}
}

// WithLogger задает логгер шлюза.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gate) {
		g.log = log
	}
}

// Gate не выпускает вопросы, пока не получено разрешение на демонстрацию экрана.
type Gate struct {
	permission Permission
	observer   func(from, to State)
	log        *slog.Logger
	state      State
	mu         sync.Mutex
}

// NewGate создаёт шлюз в состоянии Idle.
func NewGate(permission Permission, opts ...Option) *Gate {
	g := &Gate{
		permission: permission,
		log:        slog.Default(),
		state:      StateIdle,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// State возвращает текущее состояние.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

// Granted сообщает, что разрешение получено.
func (g *Gate) Granted() bool {
	return g.State() == StateGranted
}

// RequestPermission запрашивает разрешение. Допустим только из Idle.
// Любой исход, кроме явного разрешения, переводит шлюз в Denied.
func (g *Gate) RequestPermission(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateIdle {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: request from %s", ErrInvalidState, state)
	}
	g.setLocked(StatePermissionPrompt)
	g.mu.Unlock()

	return g.prompt(ctx)
}

// Retry повторяет запрос после отказа. Допустим только из Denied.
func (g *Gate) Retry(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateDenied {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidState, state)
	}
	g.setLocked(StateRetryPrompt)
	g.setLocked(StatePermissionPrompt)
	g.mu.Unlock()

	return g.prompt(ctx)
}

// Cancel завершает работу шлюза после отказа. Допустим только из Denied.
func (g *Gate) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateDenied {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidState, g.state)
	}
	g.setLocked(StateAbandoned)

	return nil
}

func (g *Gate) prompt(ctx context.Context) error {
	granted, err := g.permission.Request(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil && granted && ctx.Err() == nil {
		g.setLocked(StateGranted)
		return nil
	}

	g.setLocked(StateDenied)

	if err != nil {
		g.log.Warn("capture permission request failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, ctxErr)
	}

	return ErrPermissionDenied
}

func (g *Gate) setLocked(to State) {
	from := g.state
	g.state = to

	g.log.Debug("security gate transition",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)

	if g.observer != nil {
		g.observer(from, to)
	}
}
