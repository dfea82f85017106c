// Package connectiondao mirrors live relay connections into an external store.
//
// Every write is advisory: a missing table, an unreachable store or a failed
// write produces a Skipped result, never an error the caller must handle.
package connectiondao

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks a write skipped because the store or its table is
// not usable.
var ErrUnavailable = errors.New("connection store unavailable")

// ErrDisabled marks a write skipped because no store is configured.
var ErrDisabled = fmt.Errorf("%w: disabled", ErrUnavailable)

// Connection is the persisted view of an authenticated relay connection.
type Connection struct {
	ConnectionID string
	UserID       string
	Active       bool
	ConnectedAt  time.Time
}

type Outcome int

const (
	Stored Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result reports what happened to an advisory write. Reason is set when
// Outcome is Skipped.
type Result struct {
	Outcome Outcome
	Reason  error
}

func (r Result) Stored() bool {
	return r.Outcome == Stored
}

func stored() Result {
	return Result{Outcome: Stored}
}

func skipped(reason error) Result {
	return Result{Outcome: Skipped, Reason: reason}
}

// Store records connection lifecycle. Implementations must be safe for
// concurrent use and must bound their own calls in time.
type Store interface {
	Activate(ctx context.Context, conn Connection) Result
	Deactivate(ctx context.Context, connectionID string) Result
}

// Nop skips every write. Used for --dry and --connection-store=none.
type Nop struct{}

func (Nop) Activate(context.Context, Connection) Result {
	return skipped(ErrDisabled)
}

func (Nop) Deactivate(context.Context, string) Result {
	return skipped(ErrDisabled)
}
