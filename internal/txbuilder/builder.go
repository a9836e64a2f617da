// Package txbuilder composes voting instructions into unsigned transactions.
//
// Every instruction carries a fixed account struct; Build checks that each
// role is filled, that derived roles match their seeds and that arguments fit
// the program's limits before anything is handed to the network.
package txbuilder

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"voting-client/internal/outcome"
	"voting-client/internal/pda"
)

// Role names an account slot of an instruction.
type Role string

const (
	RoleSigner        Role = "signer"
	RolePoll          Role = "poll"
	RoleCandidate     Role = "candidate"
	RoleVoterRecord   Role = "voter_record"
	RoleSystemProgram Role = "system_program"
)

type roleSpec struct {
	role     Role
	writable bool
	signer   bool
}

// layouts is the account order each instruction expects on chain.
var layouts = map[string][]roleSpec{
	"initialize_poll": {
		{RoleSigner, true, true},
		{RolePoll, true, false},
		{RoleSystemProgram, false, false},
	},
	"initialize_candidate": {
		{RoleSigner, true, true},
		{RolePoll, true, false},
		{RoleCandidate, true, false},
		{RoleSystemProgram, false, false},
	},
	"vote": {
		{RoleSigner, true, true},
		{RolePoll, true, false},
		{RoleCandidate, true, false},
		{RoleVoterRecord, true, false},
		{RoleSystemProgram, false, false},
	},
}

// Roles returns the ordered account roles of op.
func Roles(op string) []Role {
	specs := layouts[op]
	out := make([]Role, len(specs))
	for i, s := range specs {
		out[i] = s.role
	}
	return out
}

type binding struct {
	role Role
	key  solana.PublicKey
}

// Instruction is one of InitializePoll, InitializeCandidate or Vote.
type Instruction interface {
	Operation() string
	bindings() []binding
	// derived returns the addresses the derived roles must hold.
	derived(program solana.PublicKey, signer solana.PublicKey) (map[Role]solana.PublicKey, error)
	data() ([]byte, error)
}

// Unsigned is a validated instruction ready to be turned into a transaction.
type Unsigned struct {
	Operation   string
	Payer       solana.PublicKey
	Accounts    map[Role]solana.PublicKey
	Instruction solana.Instruction
}

// Transaction assembles the unsigned transaction against blockhash.
func (u *Unsigned) Transaction(blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction([]solana.Instruction{u.Instruction}, blockhash, solana.TransactionPayer(u.Payer))
	if err != nil {
		return nil, fmt.Errorf("assemble %s transaction: %w", u.Operation, err)
	}
	return tx, nil
}

// Builder composes instructions for one program id.
type Builder struct {
	program solana.PublicKey
}

// New returns a builder targeting program.
func New(program solana.PublicKey) *Builder {
	return &Builder{program: program}
}

// Program returns the program id instructions are addressed to.
func (b *Builder) Program() solana.PublicKey {
	return b.program
}

// Build validates ix and composes it into an Unsigned instruction paid for by payer.
func (b *Builder) Build(ix Instruction, payer solana.PublicKey) (*Unsigned, error) {
	op := ix.Operation()
	layout, ok := layouts[op]
	if !ok {
		return nil, outcome.Validationf("unknown operation %q", op)
	}
	if b.program.IsZero() {
		return nil, outcome.Validationf("%s: program id is empty", op)
	}
	if payer.IsZero() {
		return nil, outcome.Validationf("%s: payer is empty", op)
	}

	bound := ix.bindings()
	if len(bound) != len(layout) {
		return nil, outcome.Validationf("%s: expected %d account roles, got %d", op, len(layout), len(bound))
	}
	accounts := make(map[Role]solana.PublicKey, len(bound))
	metas := make(solana.AccountMetaSlice, 0, len(layout))
	for i, rs := range layout {
		bnd := bound[i]
		if bnd.role != rs.role {
			return nil, outcome.Validationf("%s: account %d is %q, want %q", op, i, bnd.role, rs.role)
		}
		if bnd.key.IsZero() && rs.role != RoleSystemProgram {
			return nil, outcome.Validationf("%s: missing account role %q", op, rs.role)
		}
		accounts[rs.role] = bnd.key
		metas = append(metas, solana.NewAccountMeta(bnd.key, rs.writable, rs.signer))
	}

	if accounts[RoleSystemProgram] != solana.SystemProgramID {
		return nil, outcome.Validationf("%s: system_program role must be %s", op, solana.SystemProgramID)
	}
	if accounts[RoleSigner] != payer {
		return nil, outcome.Validationf("%s: signer role %s differs from payer %s", op, accounts[RoleSigner], payer)
	}

	want, err := ix.derived(b.program, accounts[RoleSigner])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for role, key := range want {
		if accounts[role] != key {
			return nil, outcome.Validationf("%s: %s account %s does not match its seeds (want %s)", op, role, accounts[role], key)
		}
	}

	data, err := ix.data()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Unsigned{
		Operation:   op,
		Payer:       payer,
		Accounts:    accounts,
		Instruction: solana.NewInstruction(b.program, metas, data),
	}, nil
}

func derive(m map[Role]solana.PublicKey, role Role, addr pda.Address, err error) error {
	if err != nil {
		return err
	}
	m[role] = addr.Key
	return nil
}
