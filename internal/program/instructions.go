package program

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// Instruction names as the program exports them.
const (
	InitializePoll      = "initialize_poll"
	InitializeCandidate = "initialize_candidate"
	Vote                = "vote"
)

var instructionsByDiscriminator = map[Discriminator]string{
	InstructionDiscriminator(InitializePoll):      InitializePoll,
	InstructionDiscriminator(InitializeCandidate): InitializeCandidate,
	InstructionDiscriminator(Vote):                Vote,
}

// InitializePollArgs are the arguments of initialize_poll, in wire order.
type InitializePollArgs struct {
	PollID      uint64
	Description string
	PollStart   uint64
	PollEnd     uint64
}

// CandidateArgs are the arguments of initialize_candidate and vote, in wire order.
type CandidateArgs struct {
	CandidateName string
	PollID        uint64
}

// EncodeInitializePoll returns the instruction data for initialize_poll.
func EncodeInitializePoll(a InitializePollArgs) ([]byte, error) {
	return encode(InstructionDiscriminator(InitializePoll), a.PollID, a.Description, a.PollStart, a.PollEnd)
}

// EncodeInitializeCandidate returns the instruction data for initialize_candidate.
func EncodeInitializeCandidate(a CandidateArgs) ([]byte, error) {
	return encode(InstructionDiscriminator(InitializeCandidate), a.CandidateName, a.PollID)
}

// EncodeVote returns the instruction data for vote.
func EncodeVote(a CandidateArgs) ([]byte, error) {
	return encode(InstructionDiscriminator(Vote), a.CandidateName, a.PollID)
}

// DecodeInstruction splits instruction data into the instruction name and a
// decoder positioned at its arguments.
func DecodeInstruction(data []byte) (string, *bin.Decoder, error) {
	if len(data) < discriminatorLen {
		return "", nil, fmt.Errorf("instruction data too short: %d bytes", len(data))
	}
	var d Discriminator
	copy(d[:], data[:discriminatorLen])
	name, ok := instructionsByDiscriminator[d]
	if !ok {
		return "", nil, fmt.Errorf("unknown instruction %x", d)
	}
	return name, bin.NewBorshDecoder(data[discriminatorLen:]), nil
}

// DecodeInitializePollArgs reads initialize_poll arguments from dec.
func DecodeInitializePollArgs(dec *bin.Decoder) (InitializePollArgs, error) {
	var a InitializePollArgs
	for _, f := range []any{&a.PollID, &a.Description, &a.PollStart, &a.PollEnd} {
		if err := dec.Decode(f); err != nil {
			return InitializePollArgs{}, fmt.Errorf("decode initialize_poll args: %w", err)
		}
	}
	return a, nil
}

// DecodeCandidateArgs reads initialize_candidate or vote arguments from dec.
func DecodeCandidateArgs(dec *bin.Decoder) (CandidateArgs, error) {
	var a CandidateArgs
	if err := dec.Decode(&a.CandidateName); err != nil {
		return CandidateArgs{}, fmt.Errorf("decode candidate args: %w", err)
	}
	if err := dec.Decode(&a.PollID); err != nil {
		return CandidateArgs{}, fmt.Errorf("decode candidate args: %w", err)
	}
	return a, nil
}
