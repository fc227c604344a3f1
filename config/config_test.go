package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/config"
	"github.com/tolelom/continuity/crypto"
)

func TestDefaultConfigFailsValidationWithoutWitnesses(t *testing.T) {
	cfg := config.DefaultConfig()
	require.Error(t, cfg.Validate())
}

func TestDefaultConfigValidatesOnceWitnessAdded(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Genesis.Witnesses = []string{pub.Hex()}
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsSamePortForRPCAndGossip(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.Genesis.Witnesses = []string{pub.Hex()}
	cfg.GossipPort = cfg.RPCPort
	require.Error(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	_, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Genesis.Witnesses = []string{pub.Hex()}
	cfg.NodeID = "node-a"

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.Save(cfg, path))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-a", loaded.NodeID)
	require.Equal(t, cfg.Genesis.Witnesses, loaded.Genesis.Witnesses)
	require.Equal(t, cfg.Thresholds, loaded.Thresholds)
}

func TestCreateGenesisBuildsConsistentFoundingBlock(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Genesis.Witnesses = []string{pub.Hex()}

	g, err := config.CreateGenesis(cfg, priv, 1700000000)
	require.NoError(t, err)

	require.True(t, g.MergeEvent.IsGenesis())
	require.NoError(t, g.MergeEvent.Verify(pub))
	require.NoError(t, g.ConfigEvent.Verify(pub))
	require.Equal(t, g.MergeEvent.EventHash, g.ConfigEvent.TreeHash)

	require.Equal(t, int64(0), g.Block.Header.Height)
	require.Equal(t, []string{g.MergeEvent.EventHash}, g.Block.Header.ConsensusProof)
	require.ElementsMatch(t, []string{g.MergeEvent.EventHash, g.ConfigEvent.EventHash}, g.Block.Events)
	require.NoError(t, g.Block.VerifyIntegrity())
}
