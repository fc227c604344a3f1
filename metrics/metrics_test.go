package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/metrics"
)

func TestNoopSatisfiesCollector(t *testing.T) {
	var c metrics.Collector = metrics.Noop{}
	c.GossipPullSucceeded("peer-1", 3)
	c.GossipPullFailed("peer-1", false)
	c.PeerReputationObserved("peer-1", 42)
	c.ConsensusRoundCompleted("ledger-1", 1, 5)
	c.ConsensusRoundSkipped("ledger-1")
}

func TestPrometheusRegistersAndRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := metrics.NewPrometheus(reg)

	p.GossipPullSucceeded("peer-1", 4)
	p.PeerReputationObserved("peer-1", 57)
	p.ConsensusRoundCompleted("ledger-1", 2, 6)

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawReputation bool
	for _, fam := range families {
		if fam.GetName() == "continuity_peer_reputation" {
			sawReputation = true
			require.Len(t, fam.Metric, 1)
			require.Equal(t, float64(57), fam.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, sawReputation)
}
