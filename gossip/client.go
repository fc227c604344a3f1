package gossip

import (
	"context"
	"errors"
	"fmt"

	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/ledgererr"
	"github.com/tolelom/continuity/peer"
)

// defaultMaxFetchRounds bounds the recursive MissingParents fetch of
// spec.md §4.3, so a peer that keeps claiming parents it cannot actually
// supply cannot wedge the worker loop.
const defaultMaxFetchRounds = 6

// Client is the gossip protocol's client side: it pulls events from a
// selected peer, resolves any MissingParents via a bounded recursive
// fetch, inserts everything into the store, and reports the outcome back
// to the PeerRegistry.
type Client struct {
	transport Transport
	store     dag.Store
	maxRounds int
}

// NewClient builds a Client over transport and store.
func NewClient(transport Transport, store dag.Store) *Client {
	return &Client{transport: transport, store: store, maxRounds: defaultMaxFetchRounds}
}

// PullResult summarizes one pull cycle against a single peer.
type PullResult struct {
	Cursor              string
	RequiredBlockHeight int64
	MergeEventsReceived int
}

// Pull performs one pull exchange against the peer at addr and integrates
// the result into the store. errs returned are already in ledgererr form
// (NetworkError, ProtocolViolation, ...) as required by spec.md §4.3.
func (c *Client) Pull(ctx context.Context, addr, ledgerID, cursor string) (PullResult, error) {
	resp, err := c.transport.Pull(ctx, addr, PullRequest{LedgerID: ledgerID, Cursor: cursor})
	if err != nil {
		return PullResult{}, err
	}

	batch := make([]*dag.Event, 0, len(resp.RegularEvents)+len(resp.MergeEvents))
	batch = append(batch, resp.RegularEvents...)
	batch = append(batch, resp.MergeEvents...)

	received, err := c.integrate(ctx, addr, ledgerID, batch)
	if err != nil {
		return PullResult{}, err
	}
	return PullResult{
		Cursor:              resp.Cursor,
		RequiredBlockHeight: resp.RequiredBlockHeight,
		MergeEventsReceived: received,
	}, nil
}

// integrate inserts every event in batch, recursively fetching whatever
// MissingParents names, up to maxRounds. A non-MissingParents insert
// error (validation, protocol violation) propagates immediately: the
// calling worker treats it as fatal for this peer session.
func (c *Client) integrate(ctx context.Context, addr, ledgerID string, batch []*dag.Event) (int, error) {
	received := 0
	round := 0
	for len(batch) > 0 {
		round++
		if round > c.maxRounds {
			return received, fmt.Errorf("gossip: missing-parent fetch exceeded %d rounds", c.maxRounds)
		}

		var stillPending []*dag.Event
		missing := make(map[string]bool)
		for _, ev := range batch {
			outcome, err := c.store.Insert(ev, dag.OriginPeer)
			if err == nil {
				if outcome == dag.OutcomeInserted {
					received++
				}
				continue
			}
			var lerr *ledgererr.Error
			if errors.As(err, &lerr) && lerr.Kind == ledgererr.KindMissingParents {
				stillPending = append(stillPending, ev)
				for _, h := range lerr.Hashes {
					missing[h] = true
				}
				continue
			}
			return received, err
		}

		if len(missing) == 0 {
			return received, nil
		}

		hashes := make([]string, 0, len(missing))
		for h := range missing {
			// A parent may have arrived later in this same batch.
			if ok, err := c.store.Exists(h); err == nil && ok {
				continue
			}
			hashes = append(hashes, h)
		}
		if len(hashes) == 0 {
			batch = stillPending
			continue
		}
		resp, err := c.transport.GetEvents(ctx, addr, GetEventsRequest{LedgerID: ledgerID, Hashes: hashes})
		if err != nil {
			return received, err
		}
		if len(resp.Events) == 0 {
			return received, fmt.Errorf("gossip: peer %s could not supply missing parents %v", addr, hashes)
		}

		batch = append(resp.Events, stillPending...)
	}
	return received, nil
}

// Notify fires a best-effort "I have new events" signal at addr.
func (c *Client) Notify(ctx context.Context, addr, ledgerID, selfID string) error {
	return c.transport.Notify(ctx, addr, NotifyRequest{LedgerID: ledgerID, PeerID: selfID})
}

// Outcome converts a completed Pull into the PeerRegistry outcome it
// should record: success (possibly idle) or failure.
func Outcome(result PullResult, err error) (success *peer.SuccessOutcome, failure *peer.FailureOutcome) {
	if err == nil {
		cursor := result.Cursor
		return &peer.SuccessOutcome{
			MergeEventsReceived: result.MergeEventsReceived,
			Cursor:              &cursor,
			BlockHeight:         result.RequiredBlockHeight,
		}, nil
	}
	fatal := ledgererr.IsFatal(err)
	if kind, ok := ledgererr.KindOf(err); ok && kind == ledgererr.KindNetwork {
		fatal = false
	}
	return nil, &peer.FailureOutcome{Err: err, Fatal: fatal}
}
