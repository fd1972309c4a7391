// Package executor defines the Executor SPI: the domain side-effect the
// Protection pipeline gates as its innermost link.
package executor

import (
	"context"

	"orchestrator/internal/core/orc"
)

// Executor performs the side-effectful call an Envelope's Command
// represents (a payment capture, a file transfer, a third-party API
// call) and reports the result as an Outcome. Implementations MUST be
// idempotent with respect to re-invocation with the same Command,
// since at-least-once Bus delivery means the same Envelope can reach
// the Executor more than once.
//
// An error returned here (as opposed to a Fail Outcome) or a panic is
// treated by the Runtime as an uncaught failure and converted to
// Fail(EXECUTOR_UNCAUGHT).
type Executor interface {
	Execute(ctx context.Context, cmd orc.Command) (orc.Outcome, error)
}

// Func adapts a plain function to the Executor interface, mirroring the
// standard library's http.HandlerFunc pattern.
type Func func(ctx context.Context, cmd orc.Command) (orc.Outcome, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, cmd orc.Command) (orc.Outcome, error) {
	return f(ctx, cmd)
}
