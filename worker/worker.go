// Package worker runs the cooperative per-ledger loop of spec.md §4.6:
// gossip fanout, then a merge attempt, then a consensus evaluation, with
// any finalized block committed and the witness set refreshed for the
// next round.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tolelom/continuity/block"
	"github.com/tolelom/continuity/consensus"
	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/gossip"
	"github.com/tolelom/continuity/ledgererr"
	"github.com/tolelom/continuity/merge"
	"github.com/tolelom/continuity/metrics"
	"github.com/tolelom/continuity/notify"
	"github.com/tolelom/continuity/peer"
	"github.com/tolelom/continuity/witness"
)

// Clock lets tests stamp deterministic timestamps; defaults to time.Now.
type Clock func() time.Time

// Deps wires one ledger's collaborators together. Every field is
// required except Metrics (defaults to metrics.Noop), Log (defaults to
// logrus.StandardLogger()), Clock (defaults to time.Now) and
// MaxPullsPerCycle (0 means no limit).
type Deps struct {
	LedgerID string
	SelfID   string

	Store     dag.Store
	Blocks    block.Store
	Peers     peer.Registry
	Merger    *merge.Merger
	Consensus *consensus.Engine
	Selector  witness.Selector
	Gossip    *gossip.Client
	Emitter   *notify.Emitter

	Metrics metrics.Collector
	Log     logrus.FieldLogger
	Clock   Clock

	// MaxPullsPerCycle bounds how many candidate peers are pulled from in
	// one cycle, so one slow/hostile peer cannot starve the others. 0
	// means no limit.
	MaxPullsPerCycle int
}

// Worker drives one ledger's gossip/merge/consensus cycle. A node runs
// one Worker per ledger it participates in.
type Worker struct {
	deps Deps
	wake chan struct{}
}

// New builds a Worker from deps, filling in defaults.
func New(deps Deps) *Worker {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Worker{deps: deps, wake: make(chan struct{}, 1)}
}

// Wake coalesces a "something happened" signal (an incoming gossip
// notify, a locally-submitted operation) into the next cycle, without
// blocking the caller and without queuing more than one pending wake.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run starts the ticker + wake-channel loop and blocks until ctx is
// canceled, matching the teacher's ticker/done-channel Run shape.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		case <-w.wake:
			w.cycle(ctx)
		}
	}
}

// RunAll starts Run for every worker in workers and blocks until ctx is
// canceled or all loops return, one goroutine per ledger's worker.
func RunAll(ctx context.Context, workers []*Worker, interval time.Duration) {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run(ctx, interval)
		}(w)
	}
	wg.Wait()
}

// RunOnce runs a single gossip/merge/consensus cycle synchronously,
// without starting the ticker loop. Tests drive convergence scenarios
// with this instead of Run plus real sleeps.
func (w *Worker) RunOnce(ctx context.Context) {
	w.cycle(ctx)
}

// cycle runs one gossip/merge/consensus pass. A panic in any stage is
// contained to this ledger: it is logged and the cycle ends, leaving the
// node's other ledgers (and the next tick of this one) unaffected.
func (w *Worker) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: cycle panicked: %v", r)
		}
	}()

	w.gossipFanout(ctx)

	witnessSet, err := w.currentWitnessSet()
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: witness set: %v", err)
		return
	}

	forked, err := w.deps.Store.ForkedCreators()
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: forked creators: %v", err)
		return
	}

	w.mergeStep(witnessSet, forked)
	w.consensusStep(witnessSet, forked)
}

func (w *Worker) currentWitnessSet() (map[string]bool, error) {
	set := make(map[string]bool)
	candidates, err := w.deps.Peers.Candidates(w.deps.Clock().Unix())
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		isWitness, err := w.deps.Peers.IsWitness(c.PeerID)
		if err != nil {
			return nil, err
		}
		if isWitness {
			set[c.PeerID] = true
		}
	}
	selfIsWitness, err := w.deps.Peers.IsWitness(w.deps.SelfID)
	if err != nil {
		return nil, err
	}
	if selfIsWitness {
		set[w.deps.SelfID] = true
	}
	return set, nil
}

func (w *Worker) gossipFanout(ctx context.Context) {
	now := w.deps.Clock().Unix()
	candidates, err := w.deps.Peers.Candidates(now)
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: list candidates: %v", err)
		return
	}
	limit := len(candidates)
	if w.deps.MaxPullsPerCycle > 0 && w.deps.MaxPullsPerCycle < limit {
		limit = w.deps.MaxPullsPerCycle
	}
	for _, rec := range candidates[:limit] {
		result, pullErr := w.deps.Gossip.Pull(ctx, rec.Address, w.deps.LedgerID, rec.Cursor)
		success, failure := gossip.Outcome(result, pullErr)
		if success != nil {
			if err := w.deps.Peers.RecordSuccess(rec.PeerID, now, *success); err != nil {
				w.deps.Log.WithField("peer", rec.PeerID).Errorf("worker: record success: %v", err)
			}
			w.deps.Metrics.GossipPullSucceeded(rec.PeerID, success.MergeEventsReceived)
		}
		if failure != nil {
			if err := w.deps.Peers.RecordFailure(rec.PeerID, now, *failure); err != nil {
				w.deps.Log.WithField("peer", rec.PeerID).Errorf("worker: record failure: %v", err)
			}
			w.deps.Metrics.GossipPullFailed(rec.PeerID, failure.Fatal)
			w.deps.Emitter.Emit(notify.Notification{
				Topic:    notify.TopicGossipFailed,
				LedgerID: w.deps.LedgerID,
				Data:     map[string]any{"peer": rec.PeerID, "error": failure.Err.Error()},
			})
		}
		if updated, err := w.deps.Peers.Get(rec.PeerID); err == nil {
			w.deps.Metrics.PeerReputationObserved(rec.PeerID, updated.Reputation)
		}
	}
}

func (w *Worker) mergeStep(witnessSet map[string]bool, withheld map[string]bool) {
	tip, ok, err := w.deps.Blocks.Tip()
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: read tip: %v", err)
		return
	}
	basisBlockHeight := int64(0)
	if ok {
		basisBlockHeight = tip.Header.Height
	}

	result, err := w.deps.Merger.Merge(witnessSet, withheld, basisBlockHeight)
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: merge: %v", err)
		return
	}
	if result.Attempted && result.Event != nil {
		w.deps.Emitter.Emit(notify.Notification{
			Topic:    notify.TopicMergeCreated,
			LedgerID: w.deps.LedgerID,
			Data: map[string]any{
				"eventHash":         result.Event.EventHash,
				"includedOperation": result.IncludedOperation,
			},
		})
	}
}

func (w *Worker) consensusStep(witnessSet map[string]bool, forked map[string]bool) {
	slice, err := w.deps.Store.GetRecentHistory()
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: recent history: %v", err)
		return
	}

	tip, ok, err := w.deps.Blocks.Tip()
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: read tip: %v", err)
		return
	}
	nextHeight := int64(0)
	previousBlockHash := ""
	if ok {
		nextHeight = tip.Header.Height + 1
		previousBlockHash = tip.Header.BlockHash
	}

	outcome, err := w.deps.Consensus.Evaluate(consensus.Input{
		Slice:           slice,
		WitnessSet:      witnessSet,
		ForkedCreators:  forked,
		NextBlockHeight: nextHeight,
	})
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: consensus evaluate: %v", err)
		return
	}
	if !outcome.Consensus {
		w.deps.Metrics.ConsensusRoundSkipped(w.deps.LedgerID)
		return
	}

	committed, err := block.New(outcome.BlockHeight, previousBlockHash, outcome.BlockEvents, outcome.ConsensusProof, w.deps.Clock().Unix())
	if err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: build block: %v", err)
		return
	}
	if err := w.deps.Blocks.Append(committed); err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: append block: %v", err)
		return
	}
	if err := w.deps.Store.MarkConsensus(outcome.BlockEvents, outcome.BlockHeight, w.deps.Clock().Unix()); err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: mark consensus: %v", err)
		return
	}

	if err := w.refreshWitnesses(committed.Header.BlockHash); err != nil {
		w.deps.Log.WithField("ledger", w.deps.LedgerID).Errorf("worker: refresh witnesses: %v", err)
	}

	w.deps.Metrics.ConsensusRoundCompleted(w.deps.LedgerID, outcome.BlockHeight, len(outcome.BlockEvents))
	w.deps.Emitter.Emit(notify.Notification{
		Topic:       notify.TopicConsensus,
		LedgerID:    w.deps.LedgerID,
		BlockHeight: outcome.BlockHeight,
		Data:        map[string]any{"blockHash": committed.Header.BlockHash, "eventCount": len(outcome.BlockEvents)},
	})
}

// refreshWitnesses re-derives the witness set for the round following
// blockHash from the current candidate pool, so the next cycle's merges
// and consensus evaluation use an up-to-date set (spec.md §4.1's witness
// set is reselected per block height).
func (w *Worker) refreshWitnesses(blockHash string) error {
	candidates, err := w.deps.Peers.Candidates(w.deps.Clock().Unix())
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(candidates)+1)
	ids = append(ids, w.deps.SelfID)
	for _, c := range candidates {
		ids = append(ids, c.PeerID)
	}
	selected, err := w.deps.Selector.SelectWitnesses(blockHash, ids)
	if err != nil {
		return err
	}
	return w.deps.Peers.SetWitnesses(selected)
}

// GossipSource adapts a ledger's Store + Blocks into gossip.Source, the
// server side a node answers remote pulls with.
type GossipSource struct {
	LedgerID string
	Store    dag.Store
	Blocks   block.Store
	OnPeerNotify func(peerID string)
}

func (s *GossipSource) BuildPullResponse(ledgerID, cursor string) (*gossip.PullResponse, error) {
	if ledgerID != s.LedgerID {
		return nil, ledgererr.New(ledgererr.KindNotFound, fmt.Sprintf("gossip: unknown ledger %q", ledgerID))
	}
	slice, err := s.Store.GetRecentHistory()
	if err != nil {
		return nil, err
	}
	var merges, regulars []*dag.Event
	for _, rec := range slice.Events {
		ev := rec.Event
		if ev.IsMerge() {
			merges = append(merges, &ev)
		} else {
			regulars = append(regulars, &ev)
		}
	}
	nextHeight := int64(0)
	if tip, ok, err := s.Blocks.Tip(); err != nil {
		return nil, err
	} else if ok {
		nextHeight = tip.Header.Height + 1
	}
	return &gossip.PullResponse{
		MergeEvents:         merges,
		RegularEvents:       regulars,
		RequiredBlockHeight: nextHeight,
	}, nil
}

func (s *GossipSource) GetEvents(ledgerID string, hashes []string) ([]*dag.Event, error) {
	if ledgerID != s.LedgerID {
		return nil, ledgererr.New(ledgererr.KindNotFound, fmt.Sprintf("gossip: unknown ledger %q", ledgerID))
	}
	var out []*dag.Event
	for _, h := range hashes {
		rec, err := s.Store.Get(h)
		if err != nil {
			if kind, ok := ledgererr.KindOf(err); ok && kind == ledgererr.KindNotFound {
				continue
			}
			return nil, err
		}
		ev := rec.Event
		out = append(out, &ev)
	}
	return out, nil
}

func (s *GossipSource) OnNotify(ledgerID, peerID string) {
	if ledgerID != s.LedgerID || s.OnPeerNotify == nil {
		return
	}
	s.OnPeerNotify(peerID)
}
