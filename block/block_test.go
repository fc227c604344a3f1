package block_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/block"
	"github.com/tolelom/continuity/internal/testutil"
	"github.com/tolelom/continuity/ledgererr"
)

func TestNewBlockHashIsDeterministicAndVerifies(t *testing.T) {
	b, err := block.New(0, "", []string{"ev1"}, []string{"ev1"}, 1700000000)
	require.NoError(t, err)
	require.NotEmpty(t, b.Header.BlockHash)
	require.NoError(t, b.VerifyIntegrity())

	again, err := block.New(0, "", []string{"ev1"}, []string{"ev1"}, 1700000000)
	require.NoError(t, err)
	require.Equal(t, b.Header.BlockHash, again.Header.BlockHash)
}

func TestBlockHashIgnoresTimestamp(t *testing.T) {
	a, err := block.New(0, "", []string{"ev1"}, []string{"ev1"}, 1700000000)
	require.NoError(t, err)
	b, err := block.New(0, "", []string{"ev1"}, []string{"ev1"}, 1800000000)
	require.NoError(t, err)
	require.Equal(t, a.Header.BlockHash, b.Header.BlockHash, "blockHash must be identical across nodes regardless of local wall-clock time")
}

func TestVerifyIntegrityRejectsTamperedEventCount(t *testing.T) {
	b, err := block.New(1, "prev", []string{"ev1", "ev2"}, []string{"ev1"}, 1700000001)
	require.NoError(t, err)
	b.Events = b.Events[:1] // drop one event without updating the header
	require.Error(t, b.VerifyIntegrity())
}

func TestStoreAppendEnforcesHeightAndLinkage(t *testing.T) {
	store := block.NewDBStore(testutil.NewMemDB())

	genesis, err := block.New(0, "", []string{"g"}, []string{"g"}, 1)
	require.NoError(t, err)
	require.NoError(t, store.Append(genesis))

	tip, ok, err := store.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesis.Header.BlockHash, tip.Header.BlockHash)

	next, err := block.New(1, genesis.Header.BlockHash, []string{"e1"}, []string{"e1"}, 2)
	require.NoError(t, err)
	require.NoError(t, store.Append(next))

	byHeight, err := store.GetByHeight(1)
	require.NoError(t, err)
	require.Equal(t, next.Header.BlockHash, byHeight.Header.BlockHash)
}

func TestStoreAppendRejectsWrongHeight(t *testing.T) {
	store := block.NewDBStore(testutil.NewMemDB())
	genesis, err := block.New(0, "", []string{"g"}, []string{"g"}, 1)
	require.NoError(t, err)
	require.NoError(t, store.Append(genesis))

	bad, err := block.New(5, genesis.Header.BlockHash, []string{"e1"}, []string{"e1"}, 2)
	require.NoError(t, err)
	err = store.Append(bad)
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindProtocolViolation, kind)
}

func TestStoreAppendRejectsWrongPreviousBlockHash(t *testing.T) {
	store := block.NewDBStore(testutil.NewMemDB())
	genesis, err := block.New(0, "", []string{"g"}, []string{"g"}, 1)
	require.NoError(t, err)
	require.NoError(t, store.Append(genesis))

	bad, err := block.New(1, "not-the-tip", []string{"e1"}, []string{"e1"}, 2)
	require.NoError(t, err)
	err = store.Append(bad)
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindProtocolViolation, kind)
}

func TestGetByHashNotFound(t *testing.T) {
	store := block.NewDBStore(testutil.NewMemDB())
	_, err := store.GetByHash("nope")
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindNotFound, kind)
}
