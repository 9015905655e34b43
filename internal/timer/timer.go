package timer

import (
	"errors"
	"sync"
	"time"
)

// Ошибки таймера
var (
	ErrRunning          = errors.New("timer is already running")
	ErrNegativeDuration = errors.New("duration must not be negative")
)

// TickInterval — период уменьшения оставшегося времени.
const TickInterval = time.Second

// TickSource — источник тиков таймера.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

// Option настраивает SectionTimer.
type Option func(*SectionTimer)

// WithTickSource задает фабрику источников тиков (нужна в тестах).
func WithTickSource(newSource func() TickSource) Option {
	return func(t *SectionTimer) {
		t.newSource = newSource
	}
}

type realTicker struct {
	ticker *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.ticker.C }

func (r realTicker) Stop() { r.ticker.Stop() }

// SectionTimer — обратный отсчет для одной секции.
// onExpire срабатывает ровно один раз на каждый Start, если таймер не остановлен.
// Колбэки вызываются только из горутины таймера.
type SectionTimer struct {
	newSource func() TickSource
	onTick    func(remaining int)
	onExpire  func()

	remaining int
	running   bool
	gen       uint64
	stop      chan struct{}
	mu        sync.Mutex
}

// New создаёт таймер. Колбэки могут быть nil.
func New(onTick func(remaining int), onExpire func(), opts ...Option) *SectionTimer {
	t := &SectionTimer{
		newSource: func() TickSource {
			return realTicker{ticker: time.NewTicker(TickInterval)}
		},
		onTick:   onTick,
		onExpire: onExpire,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start запускает отсчет с durationSeconds секунд.
// При нулевой длительности onExpire срабатывает сразу, без тиков.
func (t *SectionTimer) Start(durationSeconds int) error {
	if durationSeconds < 0 {
		return ErrNegativeDuration
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return ErrRunning
	}

	t.gen++
	t.running = true
	t.remaining = durationSeconds
	t.stop = make(chan struct{})

	go t.run(t.gen, t.newSource(), t.stop)

	return nil
}

// Stop останавливает отсчет и отменяет еще не сработавший onExpire.
// Возвращает true, если таймер был запущен.
func (t *SectionTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return false
	}

	t.running = false
	close(t.stop)

	return true
}

// Remaining возвращает оставшиеся секунды.
func (t *SectionTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remaining
}

// Running сообщает, идет ли отсчет.
func (t *SectionTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.running
}

// run ведет отсчет для запуска с номером gen.
func (t *SectionTimer) run(gen uint64, ticks TickSource, stop <-chan struct{}) {
	defer ticks.Stop()

	for {
		t.mu.Lock()
		if t.gen != gen || !t.running {
			t.mu.Unlock()
			return
		}

		if t.remaining == 0 {
			// таймер становится инертным до следующего Start
			t.running = false
			t.mu.Unlock()

			if t.onExpire != nil {
				t.onExpire()
			}

			return
		}
		t.mu.Unlock()

		select {
		case <-stop:
			return
		case <-ticks.C():
			t.mu.Lock()
			if t.gen != gen || !t.running {
				t.mu.Unlock()
				return
			}

			t.remaining--
			remaining := t.remaining
			t.mu.Unlock()

			if t.onTick != nil {
				t.onTick(remaining)
			}
		}
	}
}
