package witness_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/witness"
)

func TestDeterministicSelectWitnessesIsStableAndSized(t *testing.T) {
	sel := witness.NewDeterministic()
	candidates := []string{"a", "b", "c", "d", "e", "f", "g"}

	first, err := sel.SelectWitnesses("block-1", candidates)
	require.NoError(t, err)
	second, err := sel.SelectWitnesses("block-1", candidates)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// n=7 -> f=2 -> 3f+1=7
	require.Len(t, first, 7)
}

func TestDeterministicSelectWitnessesChangesWithBlockHash(t *testing.T) {
	sel := witness.NewDeterministic()
	candidates := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}

	atOne, err := sel.SelectWitnesses("block-1", candidates)
	require.NoError(t, err)
	atTwo, err := sel.SelectWitnesses("block-2", candidates)
	require.NoError(t, err)

	require.NotEqual(t, atOne, atTwo)
	// n=10 -> f=3 -> 3f+1=9
	require.Len(t, atOne, 9)
}

func TestFaultTolerance(t *testing.T) {
	require.Equal(t, 2, witness.FaultTolerance(7))
	require.Equal(t, 0, witness.FaultTolerance(1))
}
