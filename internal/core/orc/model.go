// Package orc holds the value objects and contracts shared by every
// component of the operation orchestrator: Command, Envelope, Outcome,
// OperationState and WalState.
package orc

import (
	"regexp"
	"time"

	"orchestrator/internal/core/apperror"
)

// OpId is the opaque, globally unique identifier of an Operation. It is
// minted once by the idempotency resolver and never mutated afterward.
type OpId string

var opIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks OpId against its character-set and length constraints.
func (id OpId) Validate() error {
	if id == "" {
		return apperror.NewValidation("op id must not be empty")
	}
	if len(id) > 255 {
		return apperror.NewValidation("op id must be at most 255 characters")
	}
	if !opIDPattern.MatchString(string(id)) {
		return apperror.NewValidation("op id contains invalid characters")
	}
	return nil
}

// Domain groups commands by bounded context, e.g. "ORDER", "PAYMENT".
type Domain string

var domainPattern = regexp.MustCompile(`^[A-Z_]+$`)

// Validate checks Domain against its character-set and length constraints.
func (d Domain) Validate() error {
	if d == "" {
		return apperror.NewValidation("domain must not be empty")
	}
	if len(d) > 50 {
		return apperror.NewValidation("domain must be at most 50 characters")
	}
	if !domainPattern.MatchString(string(d)) {
		return apperror.NewValidation("domain must match [A-Z_]+")
	}
	return nil
}

// EventType is a short symbolic tag naming the kind of command within a
// Domain, e.g. "CREATE", "CAPTURE".
type EventType string

// Validate checks EventType is present.
func (e EventType) Validate() error {
	if e == "" {
		return apperror.NewValidation("event type must not be empty")
	}
	return nil
}

// BizKey identifies the business entity the command acts on, e.g. an
// order number or account id.
type BizKey string

// Validate checks BizKey is present.
func (k BizKey) Validate() error {
	if k == "" {
		return apperror.NewValidation("business key must not be empty")
	}
	return nil
}

// IdemKey is the caller-supplied deduplication token, typically a UUID.
type IdemKey string

// Validate checks IdemKey is present.
func (k IdemKey) Validate() error {
	if k == "" {
		return apperror.NewValidation("idem key must not be empty")
	}
	return nil
}

// IdempotencyKey is the composite key the idempotency resolver maps to an
// OpId. Per invariant I5 the same IdempotencyKey always resolves to the
// same OpId.
type IdempotencyKey struct {
	Domain    Domain
	EventType EventType
	BizKey    BizKey
	IdemKey   IdemKey
}

// Validate checks every component of the composite key.
func (k IdempotencyKey) Validate() error {
	if err := k.Domain.Validate(); err != nil {
		return err
	}
	if err := k.EventType.Validate(); err != nil {
		return err
	}
	if err := k.BizKey.Validate(); err != nil {
		return err
	}
	return k.IdemKey.Validate()
}

// String renders the composite key in a stable, delimiter-separated form
// suitable for use as a map key or a unique-index column value.
func (k IdempotencyKey) String() string {
	return string(k.Domain) + "\x1f" + string(k.EventType) + "\x1f" + string(k.BizKey) + "\x1f" + string(k.IdemKey)
}

// Payload is an opaque byte blob carrying business data. It may be nil.
type Payload []byte

// Command is the immutable unit of work a caller submits.
type Command struct {
	Domain    Domain
	EventType EventType
	BizKey    BizKey
	IdemKey   IdemKey
	Payload   Payload
}

// IdempotencyKey derives the composite key this Command maps to.
func (c Command) IdempotencyKey() IdempotencyKey {
	return IdempotencyKey{
		Domain:    c.Domain,
		EventType: c.EventType,
		BizKey:    c.BizKey,
		IdemKey:   c.IdemKey,
	}
}

// Validate checks every non-payload field.
func (c Command) Validate() error {
	return c.IdempotencyKey().Validate()
}

// Envelope is a unit of work in transit: a Command paired with the OpId
// it resolved to and the time it was accepted.
type Envelope struct {
	OpId       OpId
	Command    Command
	AcceptedAt int64 // epoch milliseconds, non-negative

	// ChunkRemainingMillis is non-zero only while a retry delay longer
	// than the Bus's practical maximum delay is being walked down in
	// successive redeliveries; see Runtime.republish. Zero means this
	// envelope is ready for normal processing.
	ChunkRemainingMillis int64
}

// Validate checks OpId and the non-negative acceptedAt constraint.
func (e Envelope) Validate() error {
	if err := e.OpId.Validate(); err != nil {
		return err
	}
	if e.AcceptedAt < 0 {
		return apperror.NewValidation("envelope acceptedAt must be non-negative")
	}
	return e.Command.Validate()
}

// NowMillis returns the current time as an epoch-millisecond timestamp,
// the unit Envelope.AcceptedAt and WAL.OccurredAt are expressed in.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
