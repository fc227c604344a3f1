package gossip_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/crypto"
	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/gossip"
	"github.com/tolelom/continuity/internal/testutil"
	"github.com/tolelom/continuity/ledgererr"
)

// fakeTransport answers Pull/Notify/GetEvents purely from in-memory
// tables, so client tests never touch the network.
type fakeTransport struct {
	pullResp   *gossip.PullResponse
	pullErr    error
	eventsByID map[string]*dag.Event
	notified   []gossip.NotifyRequest
}

func (f *fakeTransport) Pull(_ context.Context, _ string, _ gossip.PullRequest) (*gossip.PullResponse, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return f.pullResp, nil
}

func (f *fakeTransport) Notify(_ context.Context, _ string, req gossip.NotifyRequest) error {
	f.notified = append(f.notified, req)
	return nil
}

func (f *fakeTransport) GetEvents(_ context.Context, _ string, req gossip.GetEventsRequest) (*gossip.GetEventsResponse, error) {
	var out []*dag.Event
	for _, h := range req.Hashes {
		if ev, ok := f.eventsByID[h]; ok {
			out = append(out, ev)
		}
	}
	return &gossip.GetEventsResponse{Events: out}, nil
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
	ev := &dag.Event{Kind: dag.KindMerge, Creator: creator.pub.Hex()}
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

func newStore() dag.Store {
	return dag.NewDBStore(testutil.NewMemDB())
}

func TestClientPullInsertsEventsAndAdvancesCursor(t *testing.T) {
	store := newStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)
	child := regularEvent(t, a, genesis, "op1")

	transport := &fakeTransport{pullResp: &gossip.PullResponse{
		MergeEvents:         []*dag.Event{genesis},
		RegularEvents:       []*dag.Event{child},
		Cursor:              "cursor-1",
		RequiredBlockHeight: 3,
	}}
	client := gossip.NewClient(transport, store)

	result, err := client.Pull(context.Background(), "http://peer", "ledger-1", "")
	require.NoError(t, err)
	require.Equal(t, "cursor-1", result.Cursor)
	require.Equal(t, int64(3), result.RequiredBlockHeight)
	require.Equal(t, 2, result.MergeEventsReceived)

	ok, err := store.Exists(genesis.EventHash)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Exists(child.EventHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClientPullResolvesMissingParentsRecursively(t *testing.T) {
	store := newStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)
	child := regularEvent(t, a, genesis, "op1")
	grandchild := regularEvent(t, a, child, "op2")

	// The peer's pull response only contains the grandchild; genesis and
	// child are "missing parents" the client must fetch via GetEvents.
	transport := &fakeTransport{
		pullResp: &gossip.PullResponse{
			RegularEvents: []*dag.Event{grandchild},
			Cursor:        "cursor-2",
		},
		eventsByID: map[string]*dag.Event{
			genesis.EventHash: genesis,
			child.EventHash:   child,
		},
	}
	client := gossip.NewClient(transport, store)

	result, err := client.Pull(context.Background(), "http://peer", "ledger-1", "")
	require.NoError(t, err)
	require.Equal(t, 3, result.MergeEventsReceived)

	ok, err := store.Exists(grandchild.EventHash)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestClientPullPropagatesTransportError(t *testing.T) {
	store := newStore()
	transport := &fakeTransport{pullErr: ledgererr.NetworkFailure(ledgererr.NetworkDetail{Address: "http://peer"}, context.DeadlineExceeded)}
	client := gossip.NewClient(transport, store)

	_, err := client.Pull(context.Background(), "http://peer", "ledger-1", "")
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindNetwork, kind)
}

func TestClientPullFailsWhenPeerCannotSupplyMissingParents(t *testing.T) {
	store := newStore()
	a := newActor(t)
	genesis := genesisEvent(t, a)
	child := regularEvent(t, a, genesis, "op1")

	transport := &fakeTransport{
		pullResp:   &gossip.PullResponse{RegularEvents: []*dag.Event{child}},
		eventsByID: map[string]*dag.Event{}, // peer has nothing to offer
	}
	client := gossip.NewClient(transport, store)

	_, err := client.Pull(context.Background(), "http://peer", "ledger-1", "")
	require.Error(t, err)
}

func TestClientNotifyForwardsToTransport(t *testing.T) {
	store := newStore()
	transport := &fakeTransport{}
	client := gossip.NewClient(transport, store)

	require.NoError(t, client.Notify(context.Background(), "http://peer", "ledger-1", "self-id"))
	require.Len(t, transport.notified, 1)
	require.Equal(t, "self-id", transport.notified[0].PeerID)
}

func TestOutcomeMapsSuccessAndFailure(t *testing.T) {
	success, failure := gossip.Outcome(gossip.PullResult{MergeEventsReceived: 2, Cursor: "c1", RequiredBlockHeight: 5}, nil)
	require.Nil(t, failure)
	require.NotNil(t, success)
	require.Equal(t, 2, success.MergeEventsReceived)
	require.Equal(t, "c1", *success.Cursor)

	_, failure = gossip.Outcome(gossip.PullResult{}, ledgererr.New(ledgererr.KindProtocolViolation, "bad fork"))
	require.NotNil(t, failure)
	require.True(t, failure.Fatal)

	_, failure = gossip.Outcome(gossip.PullResult{}, ledgererr.NetworkFailure(ledgererr.NetworkDetail{Address: "x"}, context.DeadlineExceeded))
	require.NotNil(t, failure)
	require.False(t, failure.Fatal)
}
