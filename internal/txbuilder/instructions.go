package txbuilder

import (
	"time"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"

	"voting-client/internal/outcome"
	"voting-client/internal/pda"
	"voting-client/internal/program"
)

// InitializePollAccounts are the accounts of initialize_poll.
type InitializePollAccounts struct {
	Signer        solana.PublicKey
	Poll          solana.PublicKey
	SystemProgram solana.PublicKey
}

// InitializePoll creates a poll account.
type InitializePoll struct {
	Accounts    InitializePollAccounts
	PollID      uint64
	Description string
	Start       time.Time
	End         time.Time
}

func (InitializePoll) Operation() string { return program.InitializePoll }

func (ix InitializePoll) bindings() []binding {
	a := ix.Accounts
	return []binding{{RoleSigner, a.Signer}, {RolePoll, a.Poll}, {RoleSystemProgram, a.SystemProgram}}
}

func (ix InitializePoll) derived(prog, _ solana.PublicKey) (map[Role]solana.PublicKey, error) {
	m := map[Role]solana.PublicKey{}
	addr, err := pda.Poll(prog, ix.PollID)
	return m, derive(m, RolePoll, addr, err)
}

func (ix InitializePoll) data() ([]byte, error) {
	if len(ix.Description) > program.MaxDescriptionLen {
		return nil, outcome.Validationf("description is %d bytes, limit is %d", len(ix.Description), program.MaxDescriptionLen)
	}
	if !utf8.ValidString(ix.Description) {
		return nil, outcome.Validationf("description is not valid UTF-8")
	}
	start, err := program.Unix(ix.Start)
	if err != nil {
		return nil, err
	}
	end, err := program.Unix(ix.End)
	if err != nil {
		return nil, err
	}
	if start >= end {
		return nil, outcome.Validationf("poll start must be before poll end")
	}
	return program.EncodeInitializePoll(program.InitializePollArgs{
		PollID:      ix.PollID,
		Description: ix.Description,
		PollStart:   start,
		PollEnd:     end,
	})
}

// CandidateAccounts are the accounts of initialize_candidate.
type CandidateAccounts struct {
	Signer        solana.PublicKey
	Poll          solana.PublicKey
	Candidate     solana.PublicKey
	SystemProgram solana.PublicKey
}

// InitializeCandidate registers a candidate within an existing poll.
type InitializeCandidate struct {
	Accounts      CandidateAccounts
	PollID        uint64
	CandidateName string
}

func (InitializeCandidate) Operation() string { return program.InitializeCandidate }

func (ix InitializeCandidate) bindings() []binding {
	a := ix.Accounts
	return []binding{{RoleSigner, a.Signer}, {RolePoll, a.Poll}, {RoleCandidate, a.Candidate}, {RoleSystemProgram, a.SystemProgram}}
}

func (ix InitializeCandidate) derived(prog, _ solana.PublicKey) (map[Role]solana.PublicKey, error) {
	return candidateRoles(prog, ix.PollID, ix.CandidateName)
}

func (ix InitializeCandidate) data() ([]byte, error) {
	if err := checkName(ix.CandidateName); err != nil {
		return nil, err
	}
	return program.EncodeInitializeCandidate(program.CandidateArgs{CandidateName: ix.CandidateName, PollID: ix.PollID})
}

// VoteAccounts are the accounts of vote.
type VoteAccounts struct {
	Signer        solana.PublicKey
	Poll          solana.PublicKey
	Candidate     solana.PublicKey
	VoterRecord   solana.PublicKey
	SystemProgram solana.PublicKey
}

// Vote casts the signer's vote for a candidate.
type Vote struct {
	Accounts      VoteAccounts
	PollID        uint64
	CandidateName string
}

func (Vote) Operation() string { return program.Vote }

func (ix Vote) bindings() []binding {
	a := ix.Accounts
	return []binding{
		{RoleSigner, a.Signer}, {RolePoll, a.Poll}, {RoleCandidate, a.Candidate},
		{RoleVoterRecord, a.VoterRecord}, {RoleSystemProgram, a.SystemProgram},
	}
}

func (ix Vote) derived(prog, signer solana.PublicKey) (map[Role]solana.PublicKey, error) {
	m, err := candidateRoles(prog, ix.PollID, ix.CandidateName)
	if err != nil {
		return nil, err
	}
	addr, err := pda.VoterRecord(prog, signer, ix.PollID)
	return m, derive(m, RoleVoterRecord, addr, err)
}

func (ix Vote) data() ([]byte, error) {
	if err := checkName(ix.CandidateName); err != nil {
		return nil, err
	}
	return program.EncodeVote(program.CandidateArgs{CandidateName: ix.CandidateName, PollID: ix.PollID})
}

func candidateRoles(prog solana.PublicKey, pollID uint64, name string) (map[Role]solana.PublicKey, error) {
	m := map[Role]solana.PublicKey{}
	poll, err := pda.Poll(prog, pollID)
	if err := derive(m, RolePoll, poll, err); err != nil {
		return nil, err
	}
	cand, err := pda.Candidate(prog, pollID, name)
	if err := derive(m, RoleCandidate, cand, err); err != nil {
		return nil, err
	}
	return m, nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return outcome.Validationf("candidate name is empty")
	case len(name) > program.MaxCandidateNameLen:
		return outcome.Validationf("candidate name is %d bytes, limit is %d", len(name), program.MaxCandidateNameLen)
	case !utf8.ValidString(name):
		return outcome.Validationf("candidate name is not valid UTF-8")
	}
	return nil
}
