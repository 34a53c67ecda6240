package messaging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/store"
)

// ConsoleSenderID is the synthetic sender identity for console input lines.
const ConsoleSenderID = "console"

// ConsoleService implements Service against standard input and output. Each
// line read from in becomes an inbound message; outbound payloads are
// rendered to text and printed. Intended for local flow development.
type ConsoleService struct {
	in      io.Reader
	out     io.Writer
	st      store.Store
	inbound chan Inbound
	done    chan struct{}
	once    sync.Once
}

// NewConsoleService creates a ConsoleService reading stdin and writing
// stdout.
func NewConsoleService(st store.Store) *ConsoleService {
	return &ConsoleService{
		in:      os.Stdin,
		out:     os.Stdout,
		st:      st,
		inbound: make(chan Inbound, DefaultChannelBufferSize),
		done:    make(chan struct{}),
	}
}

// SendPayload renders the payload to text, prints it, and records the
// bookkeeping entry.
func (s *ConsoleService) SendPayload(ctx context.Context, to string, payload models.MessagePayload, history models.HistoryRecord) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	body := RenderText(payload)
	if body == "" {
		return models.ErrEmptyPayload
	}
	if _, err := fmt.Fprintf(s.out, "-> %s: %s\n", to, body); err != nil {
		return fmt.Errorf("failed to write console message: %w", err)
	}
	recordHistory(s.st, history)
	return nil
}

// Start begins reading input lines in a background goroutine.
func (s *ConsoleService) Start(ctx context.Context) error {
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case s.inbound <- Inbound{From: ConsoleSenderID, Name: ConsoleSenderID, Body: line, Timestamp: time.Now()}:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("ConsoleService input read failed", "error", err)
		}
	}()
	slog.Info("ConsoleService started")
	return nil
}

// Stop stops the reader loop.
func (s *ConsoleService) Stop() error {
	s.once.Do(func() {
		close(s.done)
		close(s.inbound)
	})
	slog.Info("ConsoleService stopped")
	return nil
}

// Inbound exposes the channel of received lines.
func (s *ConsoleService) Inbound() <-chan Inbound {
	return s.inbound
}
