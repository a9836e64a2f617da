// Package pda derives program addresses for voting accounts.
//
// A derived address is a pure function of the program id and an ordered list
// of seeds; the same inputs always produce the same address.
package pda

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"voting-client/internal/outcome"
)

const (
	// MaxSeeds is the number of caller seeds the runtime accepts, excluding the bump.
	MaxSeeds = 15
	// MaxSeedLen is the maximum length in bytes of a single seed.
	MaxSeedLen = solana.MaxSeedLength
)

// Seed is one byte-encoded seed value.
type Seed []byte

// U64 encodes v as 8 little-endian bytes.
func U64(v uint64) Seed {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// Text encodes s as its raw bytes, without length prefix or terminator.
func Text(s string) Seed {
	return Seed(s)
}

// Key encodes a public key as its 32 raw bytes.
func Key(k solana.PublicKey) Seed {
	return k.Bytes()
}

// Address is a derived address together with the bump seed that produced it.
type Address struct {
	Key  solana.PublicKey
	Bump uint8
}

// swapped in tests to exercise exhaustion
var findProgramAddress = solana.FindProgramAddress

// Derive returns the first off-curve address for seeds under program.
func Derive(program solana.PublicKey, seeds ...Seed) (Address, error) {
	if program.IsZero() {
		return Address{}, outcome.Validationf("program id is empty")
	}
	if len(seeds) > MaxSeeds {
		return Address{}, outcome.Validationf("%d seeds exceed the limit of %d", len(seeds), MaxSeeds)
	}
	raw := make([][]byte, len(seeds))
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return Address{}, outcome.Validationf("seed %d is %d bytes, limit is %d", i, len(s), MaxSeedLen)
		}
		raw[i] = s
	}
	key, bump, err := findProgramAddress(raw, program)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", outcome.ErrDerivationExhausted, err)
	}
	return Address{Key: key, Bump: bump}, nil
}

// Poll derives the address of the poll account for pollID.
func Poll(program solana.PublicKey, pollID uint64) (Address, error) {
	return Derive(program, U64(pollID))
}

// Candidate derives the address of a named candidate within a poll.
func Candidate(program solana.PublicKey, pollID uint64, name string) (Address, error) {
	return Derive(program, U64(pollID), Text(name))
}

// VoterRecord derives the account recording whether voter has voted in pollID.
func VoterRecord(program, voter solana.PublicKey, pollID uint64) (Address, error) {
	return Derive(program, Key(voter), U64(pollID))
}
