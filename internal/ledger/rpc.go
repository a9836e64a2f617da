package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"
)

// RPC implements Ledger over a Solana JSON-RPC endpoint.
type RPC struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
}

// NewRPC connects to endpoint. Requests are paced to rps per second
// (0 disables pacing); public endpoints throttle aggressively.
func NewRPC(endpoint string, commitment rpc.CommitmentType, rps float64) *RPC {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &RPC{
		client:     rpc.New(endpoint),
		commitment: commitment,
		limiter:    rate.NewLimiter(limit, burst),
	}
}

func (r *RPC) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (r *RPC) ProgramAccounts(ctx context.Context, program solana.PublicKey, prefix []byte) ([]Account, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	opts := &rpc.GetProgramAccountsOpts{
		Commitment: r.commitment,
		Encoding:   solana.EncodingBase64,
	}
	if len(prefix) > 0 {
		opts.Filters = []rpc.RPCFilter{{
			Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(prefix)},
		}}
	}
	res, err := r.client.GetProgramAccountsWithOpts(ctx, program, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: get program accounts %s: %w", ErrUnavailable, program, err)
	}
	out := make([]Account, 0, len(res))
	for _, ka := range res {
		if ka == nil || ka.Account == nil {
			continue
		}
		out = append(out, toAccount(ka.Pubkey, ka.Account))
	}
	return out, nil
}

func (r *RPC) Account(ctx context.Context, addr solana.PublicKey) (*Account, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	res, err := r.client.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: r.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (res == nil || res.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get account %s: %w", ErrUnavailable, addr, err)
	}
	acc := toAccount(addr, res.Value)
	return &acc, nil
}

func (r *RPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := r.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	res, err := r.client.GetLatestBlockhash(ctx, r.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("%w: latest blockhash: %w", ErrUnavailable, err)
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, fmt.Errorf("%w: latest blockhash: empty response", ErrUnavailable)
	}
	return res.Value.Blockhash, nil
}

func (r *RPC) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := r.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := r.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: r.commitment,
	})
	if err != nil {
		// A JSON-RPC error object means the node answered and refused the
		// transaction (preflight simulation failed, bad blockhash, ...).
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			return solana.Signature{}, fmt.Errorf("%w: %s (code %d)", ErrRejected, rpcErr.Message, rpcErr.Code)
		}
		return solana.Signature{}, fmt.Errorf("%w: send transaction: %w", ErrUnavailable, err)
	}
	return sig, nil
}

func (r *RPC) SignatureStatus(ctx context.Context, sig solana.Signature) (Status, error) {
	if err := r.wait(ctx); err != nil {
		return Status{}, err
	}
	res, err := r.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return Status{}, fmt.Errorf("%w: signature status %s: %w", ErrUnavailable, sig, err)
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return Status{Confirmation: Unknown}, nil
	}
	st := res.Value[0]
	out := Status{Slot: st.Slot}
	switch {
	case st.Err != nil:
		out.Confirmation = Failed
		out.Err = fmt.Errorf("transaction failed: %v", st.Err)
	case st.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		out.Confirmation = Finalized
	case st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed:
		out.Confirmation = Confirmed
	default:
		out.Confirmation = Processed
	}
	return out, nil
}

func toAccount(addr solana.PublicKey, a *rpc.Account) Account {
	acc := Account{
		Address:    addr,
		Owner:      a.Owner,
		Lamports:   a.Lamports,
		Executable: a.Executable,
	}
	if a.Data != nil {
		acc.Data = a.Data.GetBinary()
	}
	return acc
}
