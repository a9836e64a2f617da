// Package ledger is the client's view of the remote Solana cluster: account
// reads, blockhashes, transaction submission and signature status.
package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrAccountNotFound is returned by Account when nothing is stored at the address.
	ErrAccountNotFound = errors.New("account not found")
	// ErrRejected marks a submission the cluster refused before executing it.
	ErrRejected = errors.New("transaction rejected")
	// ErrUnavailable marks a transport failure; the request may or may not have been processed.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Account is a raw account as stored on chain.
type Account struct {
	Address    solana.PublicKey
	Owner      solana.PublicKey
	Lamports   uint64
	Executable bool
	Data       []byte
}

// Confirmation is the progress of a submitted transaction.
type Confirmation int

const (
	// Unknown means the cluster has no record of the signature (yet).
	Unknown Confirmation = iota
	Processed
	Confirmed
	Finalized
	// Failed means the transaction landed but its execution returned an error.
	Failed
)

func (c Confirmation) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case Processed:
		return "processed"
	case Confirmed:
		return "confirmed"
	case Finalized:
		return "finalized"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// Status is the status of one signature.
type Status struct {
	Confirmation Confirmation
	Slot         uint64
	Err          error // execution error when Confirmation == Failed
}

// Ledger is the set of remote primitives the voting client needs.
type Ledger interface {
	// ProgramAccounts lists accounts owned by program whose data starts with prefix.
	ProgramAccounts(ctx context.Context, program solana.PublicKey, prefix []byte) ([]Account, error)
	// Account fetches one account; ErrAccountNotFound when empty.
	Account(ctx context.Context, addr solana.PublicKey) (*Account, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	// Send submits a signed transaction. Errors wrap ErrRejected when the
	// cluster refused it, ErrUnavailable otherwise.
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (Status, error)
}
