// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/samsaffron/term-agent/internal/toolcall"
)

// RunFunc implements a fake tool.
type RunFunc func(ctx context.Context, name string, args json.RawMessage) (string, error)

// Tools is a scriptable set of built-in tools. Every tool accepts any JSON
// object.
type Tools struct {
	descs []toolcall.Descriptor
	run   RunFunc

	mu          sync.Mutex
	invocations []Invocation
}

// Invocation records one call to Run.
type Invocation struct {
	Name   string
	Args   json.RawMessage
	Output string
	Err    error
}

// NewTools returns fake tools with the given names, all served by run.
func NewTools(run RunFunc, names ...string) *Tools {
	t := &Tools{run: run}
	for _, n := range names {
		t.descs = append(t.descs, toolcall.Descriptor{
			Name:        n,
			Description: "test tool " + n,
			Schema:      map[string]any{"type": "object"},
			Target:      toolcall.BuiltIn,
		})
	}
	return t
}

// Descriptors returns a descriptor per tool.
func (t *Tools) Descriptors() []toolcall.Descriptor {
	return t.descs
}

// Run calls the RunFunc and records the invocation.
func (t *Tools) Run(ctx context.Context, name string, args json.RawMessage) (string, error) {
	out, err := t.run(ctx, name, args)
	t.mu.Lock()
	t.invocations = append(t.invocations, Invocation{Name: name, Args: args, Output: out, Err: err})
	t.mu.Unlock()
	return out, err
}

// Invocations returns the recorded calls in completion order.
func (t *Tools) Invocations() []Invocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Invocation(nil), t.invocations...)
}

// Count returns how many calls reached Run.
func (t *Tools) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.invocations)
}

// Static returns a RunFunc that always answers output.
func Static(output string) RunFunc {
	return func(context.Context, string, json.RawMessage) (string, error) {
		return output, nil
	}
}
