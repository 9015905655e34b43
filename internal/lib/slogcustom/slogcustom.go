package slogcustom

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Option настраивает CustomHandler.
type Option func(*CustomHandler)

// WithoutColor отключает раскраску вывода, например при записи в файл.
func WithoutColor() Option {
	return func(c *CustomHandler) {
		c.colorize = false
	}
}

// CustomHandler пишет записи slog в одну строку с цветным уровнем.
type CustomHandler struct {
	l        *log.Logger
	mu       *sync.Mutex
	level    slog.Leveler
	colorize bool
	attrs    []slog.Attr
	group    string
}

func NewCustomHandler(out io.Writer, level slog.Leveler, opts ...Option) *CustomHandler {
	c := &CustomHandler{
		l:        log.New(out, "", 0),
		mu:       &sync.Mutex{},
		level:    level,
		colorize: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"

	switch {
	case r.Level >= slog.LevelError:
		level = c.paint(color.FgRed, level)
	case r.Level >= slog.LevelWarn:
		level = c.paint(color.FgYellow, level)
	case r.Level >= slog.LevelInfo:
		level = c.paint(color.FgHiBlue, level)
	default:
		level = c.paint(color.FgMagenta, level)
	}

	var attrs strings.Builder
	for _, a := range c.attrs {
		c.writeAttr(&attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		c.writeAttr(&attrs, c.group, a)
		return true
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.l.Println(
		r.Time.Format("15:04:05.000"),
		level,
		r.Message,
		strings.TrimSpace(attrs.String()),
	)
	return nil
}

func (c *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return c
	}

	next := c.clone()
	for _, a := range attrs {
		if c.group != "" {
			a.Key = c.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}

	return next
}

func (c *CustomHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return c
	}

	next := c.clone()
	if next.group != "" {
		next.group += "." + name
	} else {
		next.group = name
	}

	return next
}

func (c *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.level.Level()
}

func (c *CustomHandler) clone() *CustomHandler {
	next := *c
	next.attrs = append([]slog.Attr(nil), c.attrs...)

	return &next
}

func (c *CustomHandler) writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	key := a.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, inner := range a.Value.Group() {
			c.writeAttr(b, key, inner)
		}
		return
	}

	b.WriteString(c.paint(color.FgGreen, key))
	b.WriteString("=")
	b.WriteString(fmt.Sprint(a.Value.Any()))
	b.WriteString(" ")
}

func (c *CustomHandler) paint(attr color.Attribute, s string) string {
	if !c.colorize {
		return s
	}

	painter := color.New(attr)
	painter.EnableColor()

	return painter.Sprint(s)
}
