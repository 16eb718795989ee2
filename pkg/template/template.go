// Package template implements the ${name} substitution engine that
// renders variable references inside literal text.
//
// The engine is a three-state scanner fed incrementally in arbitrary
// chunks; state persists across chunk boundaries, so no re-buffering is
// needed. Literal text is copied through an output buffer that is
// flushed whenever it fills and when input ends. A `$` not followed by
// `{` is not an escape: both characters pass through verbatim, so
// unrelated dollar signs survive templating unchanged.
//
// A reference to an unknown variable emits nothing and is counted; the
// overall result is then a soft failure, with all other text still
// emitted.
package template

import (
	"fmt"
	"io"

	"github.com/marmos91/varbus/pkg/status"
)

// Resolver renders a named variable's value into w. A miss must be
// reported as status.ErrNotFound.
type Resolver interface {
	Render(name string, w io.Writer) error
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(name string, w io.Writer) error

func (f ResolverFunc) Render(name string, w io.Writer) error { return f(name, w) }

// Scanner states.
type state uint8

const (
	stateLiteral state = iota
	stateSawDollar
	stateInName
)

// Capacity defaults. Reaching the name capacity forces substitution of
// whatever was collected, mirroring the bounded name field on the wire.
const (
	defaultOutCap  = 1024
	defaultNameCap = 64
)

// Engine scans input and writes the substituted result to its writer.
// Not safe for concurrent use.
type Engine struct {
	w        io.Writer
	resolver Resolver

	state    state
	out      []byte
	name     []byte
	failures int
}

// New returns an engine writing substituted output to w and resolving
// references through r.
func New(w io.Writer, r Resolver) *Engine {
	return &Engine{
		w:        w,
		resolver: r,
		out:      make([]byte, 0, defaultOutCap),
		name:     make([]byte, 0, defaultNameCap),
	}
}

// Process consumes one input chunk. Only output I/O errors abort the
// scan; failed substitutions are tallied and reported by Finish.
func (e *Engine) Process(chunk []byte) error {
	for _, c := range chunk {
		switch e.state {
		case stateLiteral:
			if c == '$' {
				e.state = stateSawDollar
				continue
			}
			if err := e.emit(c); err != nil {
				return err
			}

		case stateSawDollar:
			if c == '{' {
				if err := e.flush(); err != nil {
					return err
				}
				e.name = e.name[:0]
				e.state = stateInName
				continue
			}
			// Lone $: both characters are literal.
			if err := e.emit('$'); err != nil {
				return err
			}
			if err := e.emit(c); err != nil {
				return err
			}
			e.state = stateLiteral

		case stateInName:
			if c == '}' {
				if err := e.substitute(); err != nil {
					return err
				}
				e.state = stateLiteral
				continue
			}
			e.name = append(e.name, c)
			if len(e.name) == cap(e.name) {
				// Name capacity reached: substitute what we have.
				if err := e.substitute(); err != nil {
					return err
				}
				e.state = stateLiteral
			}
		}
	}
	return nil
}

// Finish flushes buffered output and reports the overall result:
// status.ErrNotSupported when any substitution failed, nil otherwise.
// An input ending inside a reference still flushes the literal prefix;
// the incomplete reference itself is dropped, except a trailing lone `$`
// which is emitted verbatim.
func (e *Engine) Finish() error {
	if e.state == stateSawDollar {
		if err := e.emit('$'); err != nil {
			return err
		}
	}
	e.state = stateLiteral
	if err := e.flush(); err != nil {
		return err
	}
	if e.failures > 0 {
		return fmt.Errorf("%d reference(s) failed to resolve: %w", e.failures, status.ErrNotSupported)
	}
	return nil
}

// Failures returns the number of references that failed to resolve.
func (e *Engine) Failures() int { return e.failures }

func (e *Engine) emit(c byte) error {
	e.out = append(e.out, c)
	if len(e.out) == cap(e.out) {
		return e.flush()
	}
	return nil
}

func (e *Engine) flush() error {
	if len(e.out) == 0 {
		return nil
	}
	if _, err := e.w.Write(e.out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	e.out = e.out[:0]
	return nil
}

// substitute resolves the collected name directly into the output
// writer. Buffered literal output is flushed first so ordering holds.
func (e *Engine) substitute() error {
	if err := e.flush(); err != nil {
		return err
	}
	if e.resolver == nil {
		e.failures++
		return nil
	}
	if err := e.resolver.Render(string(e.name), e.w); err != nil {
		e.failures++
	}
	return nil
}
