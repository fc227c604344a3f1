package wallet_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/wallet"
)

func TestGenerateAndNewOperationEventRoundTrip(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	genesis := &dag.Event{Kind: dag.KindMerge, Creator: w.PubKey()}
	require.NoError(t, genesis.Sign(w.PrivKey()))

	ev, err := w.NewOperationEvent(genesis, map[string]string{"action": "ping"})
	require.NoError(t, err)
	require.Equal(t, w.PubKey(), ev.Creator)
	require.Equal(t, genesis.EventHash, ev.TreeHash)
	require.NoError(t, ev.Verify(w.PrivKey().Public()))
}

func TestKeystoreSaveLoadRoundTrip(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, wallet.SaveKey(path, "hunter2", w.PrivKey()))

	loaded, err := wallet.LoadKey(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, w.PrivKey(), loaded)
}

func TestKeystoreRejectsWrongPassword(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, wallet.SaveKey(path, "correct", w.PrivKey()))

	_, err = wallet.LoadKey(path, "wrong")
	require.Error(t, err)
}
