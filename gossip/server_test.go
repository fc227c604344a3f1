package gossip_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/gossip"
	"github.com/tolelom/continuity/ledgererr"
)

type fakeSource struct {
	resp         *gossip.PullResponse
	pullErr      error
	events       map[string]*dag.Event
	notified     []string
	notifyPeerID string
}

func (f *fakeSource) BuildPullResponse(ledgerID, cursor string) (*gossip.PullResponse, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return f.resp, nil
}

func (f *fakeSource) GetEvents(ledgerID string, hashes []string) ([]*dag.Event, error) {
	var out []*dag.Event
	for _, h := range hashes {
		if ev, ok := f.events[h]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeSource) OnNotify(ledgerID, peerID string) {
	f.notified = append(f.notified, ledgerID)
	f.notifyPeerID = peerID
}

func startServer(t *testing.T, source gossip.Source) string {
	t.Helper()
	srv := gossip.NewServer("127.0.0.1:0", source, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	// Start binds synchronously, so Addr is available immediately after.
	return fmt.Sprintf("http://%s", srv.Addr().String())
}

func TestServerAndHTTPTransportRoundTripPull(t *testing.T) {
	a := newActor(t)
	genesis := genesisEvent(t, a)
	source := &fakeSource{resp: &gossip.PullResponse{MergeEvents: []*dag.Event{genesis}, Cursor: "c1"}}
	addr := startServer(t, source)

	transport := gossip.NewHTTPTransport(nil)
	resp, err := transport.Pull(context.Background(), addr, gossip.PullRequest{LedgerID: "ledger-1"})
	require.NoError(t, err)
	require.Equal(t, "c1", resp.Cursor)
	require.Len(t, resp.MergeEvents, 1)
	require.Equal(t, genesis.EventHash, resp.MergeEvents[0].EventHash)
}

func TestServerAndHTTPTransportRoundTripGetEvents(t *testing.T) {
	a := newActor(t)
	genesis := genesisEvent(t, a)
	source := &fakeSource{events: map[string]*dag.Event{genesis.EventHash: genesis}}
	addr := startServer(t, source)

	transport := gossip.NewHTTPTransport(nil)
	resp, err := transport.GetEvents(context.Background(), addr, gossip.GetEventsRequest{LedgerID: "ledger-1", Hashes: []string{genesis.EventHash}})
	require.NoError(t, err)
	require.Len(t, resp.Events, 1)
}

func TestServerAndHTTPTransportNotify(t *testing.T) {
	source := &fakeSource{}
	addr := startServer(t, source)

	transport := gossip.NewHTTPTransport(nil)
	err := transport.Notify(context.Background(), addr, gossip.NotifyRequest{LedgerID: "ledger-1", PeerID: "peer-9"})
	require.NoError(t, err)
	require.Equal(t, []string{"ledger-1"}, source.notified)
	require.Equal(t, "peer-9", source.notifyPeerID)
}

func TestServerMapsSourceNotFoundToNetworkErrorWith404(t *testing.T) {
	// The server maps KindNotFound to HTTP 404, and the transport treats
	// any 404 as a NetworkError carrying the status code rather than
	// decoding the wire body, so a vanished ledger looks recoverable
	// rather than a permanent protocol fault.
	source := &fakeSource{pullErr: ledgererr.New(ledgererr.KindNotFound, "unknown ledger")}
	addr := startServer(t, source)

	transport := gossip.NewHTTPTransport(nil)
	_, err := transport.Pull(context.Background(), addr, gossip.PullRequest{LedgerID: "nope"})
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindNetwork, kind)

	var lerr *ledgererr.Error
	require.ErrorAs(t, err, &lerr)
	require.NotNil(t, lerr.Network)
	require.Equal(t, 404, lerr.Network.HTTPStatusCode)
}

func TestServerProtocolViolationMapsThroughTransport(t *testing.T) {
	source := &fakeSource{pullErr: ledgererr.New(ledgererr.KindProtocolViolation, "fork detected")}
	addr := startServer(t, source)

	transport := gossip.NewHTTPTransport(nil)
	_, err := transport.Pull(context.Background(), addr, gossip.PullRequest{LedgerID: "ledger-1"})
	require.Error(t, err)
	kind, ok := ledgererr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindProtocolViolation, kind)
}
