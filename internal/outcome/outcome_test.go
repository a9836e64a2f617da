package outcome

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Confirmed},
		{"validation", Validationf("name too long"), Rejected},
		{"rejected", fmt.Errorf("%w: already in use", ErrSubmissionRejected), Rejected},
		{"exhausted", ErrDerivationExhausted, Rejected},
		{"indeterminate", fmt.Errorf("%w: timed out", ErrSubmissionIndeterminate), Indeterminate},
		{"cancelled", context.Canceled, Indeterminate},
		{"deadline", fmt.Errorf("confirm: %w", context.DeadlineExceeded), Indeterminate},
		{"unknown", errors.New("boom"), Rejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	o := Failed("vote", solana.Signature{}, Validationf("candidate name is empty"))
	require.Equal(t, Rejected, o.Kind)
	require.Equal(t, "vote: rejected err=validation failed: candidate name is empty", o.String())
	require.Equal(t, "validation failed: candidate name is empty", o.Message())

	ok := Outcome{Kind: Confirmed, Operation: "vote"}
	require.Empty(t, ok.Message())
	require.True(t, ok.Kind.Terminal())
	require.False(t, Pending.Terminal())
	require.Equal(t, "kind(9)", Kind(9).String())
}
