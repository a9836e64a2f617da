// Package program describes the on-chain voting program: its id, account
// layouts and instruction encodings.
package program

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"voting-client/internal/outcome"
)

// DefaultID is the id the program declares for every cluster.
var DefaultID = solana.MustPublicKeyFromBase58("coUnmi3oBUtwtd9fjeAvSsJssXh5A5xyPbhpewyzRVF")

// Limits enforced by the program.
const (
	MaxDescriptionLen   = 200
	MaxCandidateNameLen = 32
	// MaxTimestamp is the first unix second the program refuses (2030-01-01).
	MaxTimestamp = 1893456000
)

const discriminatorLen = 8

// Discriminator is the 8-byte tag prefixing account data and instruction data.
type Discriminator [discriminatorLen]byte

func sighash(namespace, name string) Discriminator {
	var d Discriminator
	h := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], h[:discriminatorLen])
	return d
}

// AccountDiscriminator returns the tag of an account type such as "Poll".
func AccountDiscriminator(name string) Discriminator {
	return sighash("account", name)
}

// InstructionDiscriminator returns the tag of an instruction such as "vote".
func InstructionDiscriminator(name string) Discriminator {
	return sighash("global", name)
}

var (
	PollDiscriminator        = AccountDiscriminator("Poll")
	CandidateDiscriminator   = AccountDiscriminator("Candidate")
	VoterRecordDiscriminator = AccountDiscriminator("VoterRecord")
)

// Poll is the decoded poll account.
type Poll struct {
	Address         solana.PublicKey
	PollID          uint64
	Description     string
	Start           time.Time
	End             time.Time
	CandidateAmount uint64
	TotalVotes      uint64
}

// Open reports whether votes are accepted at t.
func (p Poll) Open(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Candidate is the decoded candidate account.
type Candidate struct {
	Address solana.PublicKey
	Name    string
	Votes   uint64
}

// VoterRecord marks a voter as having voted in a poll.
type VoterRecord struct {
	Address solana.PublicKey
	Voted   bool
	Poll    solana.PublicKey
}

func checkDiscriminator(data []byte, want Discriminator) (*bin.Decoder, error) {
	if len(data) < discriminatorLen {
		return nil, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:discriminatorLen], want[:]) {
		return nil, fmt.Errorf("unexpected discriminator %x", data[:discriminatorLen])
	}
	return bin.NewBorshDecoder(data[discriminatorLen:]), nil
}

// DecodePoll decodes the data of a poll account stored at addr.
func DecodePoll(addr solana.PublicKey, data []byte) (Poll, error) {
	dec, err := checkDiscriminator(data, PollDiscriminator)
	if err != nil {
		return Poll{}, fmt.Errorf("decode poll %s: %w", addr, err)
	}
	var (
		p          = Poll{Address: addr}
		start, end uint64
	)
	for _, f := range []any{&p.PollID, &p.Description, &start, &end, &p.CandidateAmount, &p.TotalVotes} {
		if err := dec.Decode(f); err != nil {
			return Poll{}, fmt.Errorf("decode poll %s: %w", addr, err)
		}
	}
	p.Start = time.Unix(int64(start), 0).UTC()
	p.End = time.Unix(int64(end), 0).UTC()
	return p, nil
}

// DecodeCandidate decodes the data of a candidate account stored at addr.
func DecodeCandidate(addr solana.PublicKey, data []byte) (Candidate, error) {
	dec, err := checkDiscriminator(data, CandidateDiscriminator)
	if err != nil {
		return Candidate{}, fmt.Errorf("decode candidate %s: %w", addr, err)
	}
	c := Candidate{Address: addr}
	if err := dec.Decode(&c.Name); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate %s: %w", addr, err)
	}
	if err := dec.Decode(&c.Votes); err != nil {
		return Candidate{}, fmt.Errorf("decode candidate %s: %w", addr, err)
	}
	return c, nil
}

// DecodeVoterRecord decodes the data of a voter record account stored at addr.
func DecodeVoterRecord(addr solana.PublicKey, data []byte) (VoterRecord, error) {
	dec, err := checkDiscriminator(data, VoterRecordDiscriminator)
	if err != nil {
		return VoterRecord{}, fmt.Errorf("decode voter record %s: %w", addr, err)
	}
	r := VoterRecord{Address: addr}
	if err := dec.Decode(&r.Voted); err != nil {
		return VoterRecord{}, fmt.Errorf("decode voter record %s: %w", addr, err)
	}
	if err := dec.Decode(&r.Poll); err != nil {
		return VoterRecord{}, fmt.Errorf("decode voter record %s: %w", addr, err)
	}
	return r, nil
}

func encode(d Discriminator, fields ...any) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(d[:])
	enc := bin.NewBorshEncoder(buf)
	for _, f := range fields {
		if err := enc.Encode(f); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// EncodePoll returns the account data the program stores for p.
func EncodePoll(p Poll) ([]byte, error) {
	return encode(PollDiscriminator,
		p.PollID, p.Description, uint64(p.Start.Unix()), uint64(p.End.Unix()), p.CandidateAmount, p.TotalVotes)
}

// EncodeCandidate returns the account data the program stores for c.
func EncodeCandidate(c Candidate) ([]byte, error) {
	return encode(CandidateDiscriminator, c.Name, c.Votes)
}

// EncodeVoterRecord returns the account data the program stores for r.
func EncodeVoterRecord(r VoterRecord) ([]byte, error) {
	return encode(VoterRecordDiscriminator, r.Voted, r.Poll)
}

// Unix converts t to the unix seconds the program stores, checking the
// program's accepted range.
func Unix(t time.Time) (uint64, error) {
	s := t.Unix()
	if s <= 0 || s >= MaxTimestamp {
		return 0, outcome.Validationf("timestamp %s outside accepted range", t.UTC().Format(time.RFC3339))
	}
	return uint64(s), nil
}
