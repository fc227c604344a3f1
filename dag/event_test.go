package dag_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/internal/testutil"
	"github.com/tolelom/continuity/ledgererr"
)

func newMemStore() dag.Store {
	return dag.NewDBStore(testutil.NewMemDB())
}

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

func genesisEvent(t *testing.T, creator actor) *dag.Event {
	t.Helper()
	ev := &dag.Event{
		Kind:    dag.KindMerge,
		Creator: creator.pub.Hex(),
	}
	require.NoError(t, ev.Sign(creator.priv))
	return ev
}

func regularEvent(t *testing.T, creator actor, parent *dag.Event, op string) *dag.Event {
	t.Helper()
	ev := &dag.Event{
		Kind:             dag.KindRegular,
		Creator:          creator.pub.Hex(),
		TreeHash:         parent.EventHash,
		ParentHash:       []string{parent.EventHash},
		BasisBlockHeight: parent.BasisBlockHeight,
		MergeHeight:      parent.MergeHeight + 1,
		Operation:        []byte(`"` + op + `"`),
	}
	require.NoError(t, ev.Sign(creator.priv))
	return ev
}

func TestEventHashRoundTrip(t *testing.T) {
	a := newActor(t)
	ev := genesisEvent(t, a)
	require.NotEmpty(t, ev.EventHash)
	require.NoError(t, ev.Verify(a.pub))

	recomputed, err := ev.ComputeHash()
	require.NoError(t, err)
	require.Equal(t, ev.EventHash, recomputed)
}

func TestEventVerifyRejectsTamperedBody(t *testing.T) {
	a := newActor(t)
	ev := genesisEvent(t, a)
	ev.BasisBlockHeight = 7 // mutate after signing, hash no longer matches
	require.Error(t, ev.Verify(a.pub))
}

func TestInsertGenesisThenRegular(t *testing.T) {
	store := newMemStore()
	a := newActor(t)

	genesis := genesisEvent(t, a)
	outcome, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)
	require.Equal(t, dag.OutcomeInserted, outcome)

	child := regularEvent(t, a, genesis, "op1")
	outcome, err = store.Insert(child, dag.OriginLocal)
	require.NoError(t, err)
	require.Equal(t, dag.OutcomeInserted, outcome)

	head, ok, err := store.GetLocalBranchHead(a.pub.Hex())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesis.EventHash, head) // branch head tracks merge events only
}

func TestInsertDuplicateIsNotAnError(t *testing.T) {
	store := newMemStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)

	_, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)

	outcome, err := store.Insert(genesis, dag.OriginPeer)
	require.NoError(t, err)
	require.Equal(t, dag.OutcomeDuplicate, outcome)
}

func TestInsertMissingParents(t *testing.T) {
	store := newMemStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)
	child := regularEvent(t, a, genesis, "op1")

	_, err := store.Insert(child, dag.OriginPeer)
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindMissingParents, kind)
}

func TestInsertRejectsBadMergeHeight(t *testing.T) {
	store := newMemStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)
	_, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)

	child := regularEvent(t, a, genesis, "op1")
	child.MergeHeight = 99
	require.NoError(t, child.Sign(a.priv)) // resign so hash/signature still match

	_, err = store.Insert(child, dag.OriginLocal)
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindProtocolViolation, kind)
}

func TestInsertDetectsForkOnSecondSiblingFromSameTreeHash(t *testing.T) {
	store := newMemStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)
	_, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)

	first := regularEvent(t, a, genesis, "op1")
	_, err = store.Insert(first, dag.OriginLocal)
	require.NoError(t, err)

	second := regularEvent(t, a, genesis, "op2") // same treeHash, different content -> fork
	_, err = store.Insert(second, dag.OriginPeer)
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindProtocolViolation, kind)

	forked, err := store.ForkedCreators()
	require.NoError(t, err)
	require.True(t, forked[a.pub.Hex()])
}

func TestGetRecentHistoryExcludesConsensusEvents(t *testing.T) {
	store := newMemStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)
	_, err := store.Insert(genesis, dag.OriginLocal)
	require.NoError(t, err)

	child := regularEvent(t, a, genesis, "op1")
	_, err = store.Insert(child, dag.OriginLocal)
	require.NoError(t, err)

	slice, err := store.GetRecentHistory()
	require.NoError(t, err)
	require.Len(t, slice.Events, 2)
	require.ElementsMatch(t, []string{child.EventHash}, slice.Children[genesis.EventHash])

	require.NoError(t, store.MarkConsensus([]string{genesis.EventHash}, 1, 1700000000))

	slice, err = store.GetRecentHistory()
	require.NoError(t, err)
	require.Len(t, slice.Events, 1)
	_, stillPending := slice.Events[genesis.EventHash]
	require.False(t, stillPending)
}
