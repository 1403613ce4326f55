// Package signal maps interrupts onto prompt and run cancellation.
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// NotifyContext returns a context that is cancelled when SIGINT or SIGTERM is received.
// The returned stop function should be called to release resources.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Interrupter implements the interactive policy: the first SIGINT cancels
// the running prompt, a second one before Reset cancels the whole run.
// SIGTERM always cancels the run.
type Interrupter struct {
	prompt func()
	run    context.CancelFunc

	mu      sync.Mutex
	pending bool
	sigs    chan os.Signal
	done    chan struct{}
}

// NewInterrupter starts watching signals. cancelPrompt is called on the
// first interrupt, cancelRun on the second.
func NewInterrupter(cancelPrompt func(), cancelRun context.CancelFunc) *Interrupter {
	in := &Interrupter{
		prompt: cancelPrompt,
		run:    cancelRun,
		sigs:   make(chan os.Signal, 2),
		done:   make(chan struct{}),
	}
	signal.Notify(in.sigs, os.Interrupt, syscall.SIGTERM)
	go in.loop()
	return in
}

func (in *Interrupter) loop() {
	for {
		select {
		case <-in.done:
			return
		case sig := <-in.sigs:
			in.Handle(sig)
		}
	}
}

// Handle applies the policy to one signal.
func (in *Interrupter) Handle(sig os.Signal) {
	in.mu.Lock()
	second := in.pending
	in.pending = true
	in.mu.Unlock()

	if sig != os.Interrupt || second {
		in.run()
		return
	}
	in.prompt()
}

// Reset forgets an earlier interrupt, typically once a new prompt starts.
func (in *Interrupter) Reset() {
	in.mu.Lock()
	in.pending = false
	in.mu.Unlock()
}

// Stop stops watching signals.
func (in *Interrupter) Stop() {
	signal.Stop(in.sigs)
	close(in.done)
}
