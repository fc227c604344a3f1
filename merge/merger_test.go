package merge_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/internal/testutil"
	"github.com/tolelom/continuity/merge"
)

type actor struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

func newActor(t *testing.T) actor {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return actor{priv: priv, pub: pub}
}

func sign(t *testing.T, ev *dag.Event, a actor) *dag.Event {
	t.Helper()
	require.NoError(t, ev.Sign(a.priv))
	return ev
}

func TestMergeRejectsWhenPeerMinimumNotMet(t *testing.T) {
	store := dag.NewDBStore(testutil.NewMemDB())
	genesisAuthor := newActor(t)
	self := newActor(t)

	genesis := sign(t, &dag.Event{Kind: dag.KindMerge, Creator: genesisAuthor.pub.Hex()}, genesisAuthor)
	_, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)

	cfg := merge.DefaultConfig()
	m := merge.New(store, cfg, self.pub.Hex(), self.priv, genesis.EventHash)

	result, err := m.Merge(nil, nil, 0)
	require.NoError(t, err)
	require.False(t, result.Attempted)
}

func TestMergeProducesEventWhenThresholdsMet(t *testing.T) {
	store := dag.NewDBStore(testutil.NewMemDB())
	genesisAuthor := newActor(t)
	self := newActor(t)
	other := newActor(t)

	genesis := sign(t, &dag.Event{Kind: dag.KindMerge, Creator: genesisAuthor.pub.Hex()}, genesisAuthor)
	_, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)

	otherHead := sign(t, &dag.Event{
		Kind:        dag.KindMerge,
		Creator:     other.pub.Hex(),
		ParentHash:  []string{genesis.EventHash},
		TreeHash:    genesis.EventHash,
		MergeHeight: 1,
	}, other)
	_, err = store.Insert(otherHead, dag.OriginPeer)
	require.NoError(t, err)

	cfg := merge.DefaultConfig()
	m := merge.New(store, cfg, self.pub.Hex(), self.priv, genesis.EventHash)

	result, err := m.Merge(nil, nil, 0)
	require.NoError(t, err)
	require.True(t, result.Attempted)
	require.NotNil(t, result.Event)
	require.ElementsMatch(t, []string{genesis.EventHash, otherHead.EventHash}, result.Event.ParentHash)
	require.Equal(t, int64(2), result.Event.MergeHeight)

	exists, err := store.Exists(result.Event.EventHash)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestMergeExcludesWithheldCreator(t *testing.T) {
	store := dag.NewDBStore(testutil.NewMemDB())
	genesisAuthor := newActor(t)
	self := newActor(t)
	byzantine := newActor(t)

	genesis := sign(t, &dag.Event{Kind: dag.KindMerge, Creator: genesisAuthor.pub.Hex()}, genesisAuthor)
	_, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)

	badHead := sign(t, &dag.Event{
		Kind:        dag.KindMerge,
		Creator:     byzantine.pub.Hex(),
		ParentHash:  []string{genesis.EventHash},
		TreeHash:    genesis.EventHash,
		MergeHeight: 1,
	}, byzantine)
	_, err = store.Insert(badHead, dag.OriginPeer)
	require.NoError(t, err)

	cfg := merge.DefaultConfig()
	m := merge.New(store, cfg, self.pub.Hex(), self.priv, genesis.EventHash)

	withheld := map[string]bool{byzantine.pub.Hex(): true}
	result, err := m.Merge(nil, withheld, 0)
	require.NoError(t, err)
	require.False(t, result.Attempted) // peerMinimum("1") cannot be met once withheld is excluded
}
