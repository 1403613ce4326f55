package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// eventStream adapts a producer goroutine to the Stream interface.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// newEventStream runs produce in its own goroutine. Events sent on the channel
// are returned by Recv in order; once produce returns, Recv yields its error
// (or io.EOF). Close cancels the producer's context and waits for it to exit.
func newEventStream(ctx context.Context, produce func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		err := produce(ctx, s.events)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// Drain so a producer blocked on send can observe cancellation.
		go func() {
			for range s.events {
			}
		}()
		<-s.done
	})
	return nil
}

// Drain reads a stream to completion. Each text delta is passed to onText
// (which may be nil) as it arrives; tool calls and usage are collected into
// the returned Response. The stream is closed before Drain returns.
func Drain(ctx context.Context, stream Stream, onText func(string), onRetry func(Event)) (Response, error) {
	defer stream.Close()

	var resp Response
	var text strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			resp.Text = text.String()
			return resp, err
		}
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
			if onText != nil && ev.Text != "" {
				onText(ev.Text)
			}
		case EventToolCall:
			if ev.Tool != nil {
				resp.ToolCalls = append(resp.ToolCalls, *ev.Tool)
			}
		case EventUsage:
			resp.Usage = ev.Use
		case EventRetry:
			// A retried attempt restarts the response from scratch.
			text.Reset()
			resp.ToolCalls = nil
			if onRetry != nil {
				onRetry(ev)
			}
		case EventError:
			if ev.Err != nil {
				resp.Text = text.String()
				return resp, ev.Err
			}
		case EventDone:
		}
	}
	resp.Text = text.String()
	return resp, nil
}

// debugRequest prints a short summary of an outgoing request for --debug.
func debugRequest(w io.Writer, provider, system string, items, tools int) {
	fmt.Fprintf(w, "=== DEBUG: %s request ===\n", provider)
	if system != "" {
		fmt.Fprintf(w, "System: %s\n", truncate(system, 200))
	}
	fmt.Fprintf(w, "Items: %d\nTools: %d\n", items, tools)
}
