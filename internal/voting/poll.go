package voting

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"voting-client/internal/cache"
	"voting-client/internal/mutation"
	"voting-client/internal/outcome"
	"voting-client/internal/pda"
	"voting-client/internal/program"
	"voting-client/internal/reader"
	"voting-client/internal/txbuilder"
)

// PollClient is scoped to one poll id of the program. Addresses are derived
// on every call under the program id of the currently selected cluster.
type PollClient struct {
	client *Client
	id     uint64
	vote   *mutation.Tracker
}

// Poll returns the client of poll id. It fails when id has no poll address
// under the selected program.
func (c *Client) Poll(id uint64) (*PollClient, error) {
	if _, err := c.PollAccount(id); err != nil {
		return nil, err
	}
	return &PollClient{client: c, id: id, vote: mutation.NewTracker()}, nil
}

func (p *PollClient) ID() uint64 { return p.id }

// Address returns the poll address on the selected cluster.
func (p *PollClient) Address() (solana.PublicKey, error) {
	return p.client.PollAccount(p.id)
}

// VoteTracker follows this poll's Vote attempts.
func (p *PollClient) VoteTracker() *mutation.Tracker { return p.vote }

// Poll returns the poll account, cached.
func (p *PollClient) Poll(ctx context.Context) (reader.Result[program.Poll], error) {
	v := p.client.view()
	addr, err := pda.Poll(v.cluster.ProgramID, p.id)
	if err != nil {
		return reader.Result[program.Poll]{State: cache.Failed, Err: err}, err
	}
	return v.reader.GetPoll(ctx, addr.Key)
}

// Refetch reads the poll account again.
func (p *PollClient) Refetch(ctx context.Context) (reader.Result[program.Poll], error) {
	v := p.client.view()
	addr, err := pda.Poll(v.cluster.ProgramID, p.id)
	if err != nil {
		return reader.Result[program.Poll]{State: cache.Failed, Err: err}, err
	}
	return v.reader.RefetchPoll(ctx, addr.Key)
}

// CandidateAccount returns the address of candidate name in this poll.
func (p *PollClient) CandidateAccount(name string) (solana.PublicKey, error) {
	addr, err := pda.Candidate(p.client.view().cluster.ProgramID, p.id, name)
	return addr.Key, err
}

// Candidate returns the candidate name of this poll, cached.
func (p *PollClient) Candidate(ctx context.Context, name string) (reader.Result[program.Candidate], error) {
	addr, err := p.CandidateAccount(name)
	if err != nil {
		return reader.Result[program.Candidate]{State: cache.Failed, Err: err}, err
	}
	return p.client.view().reader.GetCandidate(ctx, addr)
}

// Candidates returns the candidates of this poll.
func (p *PollClient) Candidates(ctx context.Context) (reader.Result[[]program.Candidate], error) {
	return p.client.CandidatesForPoll(ctx, p.id)
}

// Vote casts the signer's vote for name. A confirmed vote refreshes this
// poll and that candidate; collections are left alone.
func (p *PollClient) Vote(ctx context.Context, name string) outcome.Outcome {
	v := p.client.view()
	poll, pollErr := pda.Poll(v.cluster.ProgramID, p.id)
	cand, candErr := pda.Candidate(v.cluster.ProgramID, p.id, name)
	build := func() (*txbuilder.Unsigned, error) {
		if pollErr != nil {
			return nil, pollErr
		}
		if candErr != nil {
			return nil, candErr
		}
		payer, err := p.client.payer()
		if err != nil {
			return nil, err
		}
		record, err := pda.VoterRecord(v.cluster.ProgramID, payer, p.id)
		if err != nil {
			return nil, err
		}
		return v.builder.Build(txbuilder.Vote{
			Accounts: txbuilder.VoteAccounts{
				Signer:        payer,
				Poll:          poll.Key,
				Candidate:     cand.Key,
				VoterRecord:   record.Key,
				SystemProgram: solana.SystemProgramID,
			},
			PollID:        p.id,
			CandidateName: name,
		}, payer)
	}
	return v.orch.Run(ctx, p.vote, program.Vote, build,
		v.reader.PollKey(poll.Key), v.reader.CandidateKey(cand.Key))
}
