// Package metrics is the optional observability collaborator of
// SPEC_FULL.md's ambient stack: gossip outcomes, peer reputation, and
// consensus rounds, exported as Prometheus metrics when wired in, or
// dropped silently by metrics.Noop when not.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector is the interface the worker reports through. Every
// method is a cheap counter/gauge update; no method returns an error,
// matching the teacher's fire-and-forget events.Emitter style.
type Collector interface {
	GossipPullSucceeded(peerID string, eventsReceived int)
	GossipPullFailed(peerID string, fatal bool)
	PeerReputationObserved(peerID string, reputation int)
	ConsensusRoundCompleted(ledgerID string, blockHeight int64, eventCount int)
	ConsensusRoundSkipped(ledgerID string)
}

// Prometheus is the production Collector, registered against a
// *prometheus.Registry supplied by the caller (cmd/node passes a fresh
// prometheus.NewRegistry()).
type Prometheus struct {
	gossipPullTotal      *prometheus.CounterVec
	gossipEventsReceived prometheus.Counter
	peerReputation       *prometheus.GaugeVec
	consensusRounds      *prometheus.CounterVec
	blockHeight          *prometheus.GaugeVec
	blockEventCount      prometheus.Histogram
}

// NewPrometheus builds a Prometheus collector and registers its metrics
// with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		gossipPullTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "continuity",
			Subsystem: "gossip",
			Name:      "pull_total",
			Help:      "Gossip pull attempts by peer and outcome.",
		}, []string{"peer_id", "outcome"}),
		gossipEventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "continuity",
			Subsystem: "gossip",
			Name:      "events_received_total",
			Help:      "Total merge + regular events received via gossip pulls.",
		}),
		peerReputation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "continuity",
			Subsystem: "peer",
			Name:      "reputation",
			Help:      "Current reputation score per peer.",
		}, []string{"peer_id"}),
		consensusRounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "continuity",
			Subsystem: "consensus",
			Name:      "rounds_total",
			Help:      "Consensus evaluation rounds by ledger and outcome.",
		}, []string{"ledger_id", "outcome"}),
		blockHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "continuity",
			Subsystem: "consensus",
			Name:      "block_height",
			Help:      "Latest committed block height per ledger.",
		}, []string{"ledger_id"}),
		blockEventCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "continuity",
			Subsystem: "consensus",
			Name:      "block_event_count",
			Help:      "Number of events committed per block.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(p.gossipPullTotal, p.gossipEventsReceived, p.peerReputation, p.consensusRounds, p.blockHeight, p.blockEventCount)
	return p
}

func (p *Prometheus) GossipPullSucceeded(peerID string, eventsReceived int) {
	p.gossipPullTotal.WithLabelValues(peerID, "success").Inc()
	p.gossipEventsReceived.Add(float64(eventsReceived))
}

func (p *Prometheus) GossipPullFailed(peerID string, fatal bool) {
	outcome := "failure"
	if fatal {
		outcome = "fatal"
	}
	p.gossipPullTotal.WithLabelValues(peerID, outcome).Inc()
}

func (p *Prometheus) PeerReputationObserved(peerID string, reputation int) {
	p.peerReputation.WithLabelValues(peerID).Set(float64(reputation))
}

func (p *Prometheus) ConsensusRoundCompleted(ledgerID string, blockHeight int64, eventCount int) {
	p.consensusRounds.WithLabelValues(ledgerID, "committed").Inc()
	p.blockHeight.WithLabelValues(ledgerID).Set(float64(blockHeight))
	p.blockEventCount.Observe(float64(eventCount))
}

func (p *Prometheus) ConsensusRoundSkipped(ledgerID string) {
	p.consensusRounds.WithLabelValues(ledgerID, "skipped").Inc()
}

// Noop discards every observation. Used as the default Collector so
// the worker never needs a nil check.
type Noop struct{}

func (Noop) GossipPullSucceeded(string, int)             {}
func (Noop) GossipPullFailed(string, bool)                {}
func (Noop) PeerReputationObserved(string, int)           {}
func (Noop) ConsensusRoundCompleted(string, int64, int)   {}
func (Noop) ConsensusRoundSkipped(string)                 {}
