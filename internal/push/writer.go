package push

import (
	"context"
	"fmt"
	"io"
	"sync"

	"companion-service/internal/models"
)

// Writer prints fragments as plain chat lines, for the terminal client.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	name   string
	typing bool
}

func NewWriter(w io.Writer, name string) *Writer {
	return &Writer{w: w, name: name, typing: true}
}

func (wr *Writer) Emit(_ context.Context, _ string, event models.Event) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	var err error
	switch event.Kind {
	case models.EventTypingStart:
		if wr.typing {
			_, err = fmt.Fprintf(wr.w, "%s is typing...\n", wr.name)
		}
	case models.EventFragment:
		_, err = fmt.Fprintf(wr.w, "%s [%s]: %s\n", wr.name, event.Fragment.Emotion, event.Fragment.Text)
	case models.EventTurnCancelled:
		if event.Dropped > 0 {
			_, err = fmt.Fprintf(wr.w, "(%s stopped, %d unsent)\n", wr.name, event.Dropped)
		}
	}
	return err
}

// ShowTyping toggles the typing indicator lines.
func (wr *Writer) ShowTyping(on bool) {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	wr.typing = on
}
