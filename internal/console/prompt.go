package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ReadLines читает r построчно в отдельной горутине.
// Канал закрывается на EOF или ошибке чтения.
func ReadLines(r io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return lines
}

// Prompt спрашивает у кандидата разрешение на захват экрана.
// Читает ответ из того же потока строк, что и Runner.
type Prompt struct {
	out   io.Writer
	lines <-chan string
}

// NewPrompt создаёт Prompt.
func NewPrompt(out io.Writer, lines <-chan string) *Prompt {
	return &Prompt{
		out:   out,
		lines: lines,
	}
}

// Request реализует security.Permission. Разрешение дает только явное согласие,
// конец ввода считается отказом.
func (p *Prompt) Request(ctx context.Context) (bool, error) {
	fmt.Fprint(p.out, msgCapturePrompt)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return false, nil
		}

		return isConsent(line), nil
	}
}

func isConsent(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "да", "д":
		return true
	default:
		return false
	}
}
