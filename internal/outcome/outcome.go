// Package outcome defines the failure taxonomy shared by the voting client and
// the structured result reported for every mutation attempt.
package outcome

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrDerivationExhausted means no bump seed produced an off-curve address.
	// Callers must not retry with the same seeds.
	ErrDerivationExhausted = errors.New("program address derivation exhausted")
	// ErrValidation is returned for malformed input caught before any network call.
	ErrValidation = errors.New("validation failed")
	// ErrSubmissionRejected means the ledger refused the transaction; nothing changed.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrSubmissionIndeterminate means confirmation was never observed.
	ErrSubmissionIndeterminate = errors.New("submission outcome unknown")
	// ErrReadFailure wraps a failed remote read.
	ErrReadFailure = errors.New("read failed")
)

// Kind is the externally visible state of a mutation attempt.
type Kind int

const (
	Pending Kind = iota
	Confirmed
	Rejected
	Indeterminate
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	case Indeterminate:
		return "indeterminate"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Terminal reports whether no further transition is expected.
func (k Kind) Terminal() bool {
	return k != Pending
}

// Outcome is the result of one mutation attempt.
type Outcome struct {
	Kind      Kind
	Operation string
	Signature solana.Signature // zero when the transaction never left the client
	Err       error
}

// Message returns a human readable error string, or "" on success.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func (o Outcome) String() string {
	s := o.Operation + ": " + o.Kind.String()
	if o.Signature != (solana.Signature{}) {
		s += " sig=" + o.Signature.String()
	}
	if o.Err != nil {
		s += " err=" + o.Err.Error()
	}
	return s
}

// Classify maps an error to the outcome kind the caller should report.
// Errors that prove no state change happened are Rejected; everything that
// leaves the ledger state unknown is Indeterminate.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return Confirmed
	case errors.Is(err, ErrSubmissionRejected),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrDerivationExhausted):
		return Rejected
	case errors.Is(err, ErrSubmissionIndeterminate),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return Indeterminate
	default:
		return Rejected
	}
}

// Failed builds an outcome for err.
func Failed(op string, sig solana.Signature, err error) Outcome {
	return Outcome{Kind: Classify(err), Operation: op, Signature: sig, Err: err}
}

// Validationf returns an ErrValidation wrapping a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
