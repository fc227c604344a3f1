// Command node starts a continuity ledger node: it gossips DAG events
// with its peers, merges and runs consensus over them, and serves the
// resulting chain over JSON-RPC.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tolelom/continuity/block"
	"github.com/tolelom/continuity/config"
	"github.com/tolelom/continuity/consensus"
	"github.com/tolelom/continuity/crypto/certgen"
	"github.com/tolelom/continuity/dag"
	"github.com/tolelom/continuity/gossip"
	"github.com/tolelom/continuity/merge"
	"github.com/tolelom/continuity/metrics"
	"github.com/tolelom/continuity/notify"
	"github.com/tolelom/continuity/peer"
	"github.com/tolelom/continuity/rpc"
	"github.com/tolelom/continuity/storage"
	"github.com/tolelom/continuity/validator"
	"github.com/tolelom/continuity/wallet"
	"github.com/tolelom/continuity/witness"
	"github.com/tolelom/continuity/worker"
)

func main() {
	log := logrus.StandardLogger()

	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genesisPath := flag.String("genesis", "genesis.json", "path to the shared genesis bundle")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires node ID from config)")
	createGenesis := flag.Bool("creategenesis", false, "build the genesis bundle for this config's witness set, write it to -genesis, and exit")
	flag.Parse()

	// Read keystore password from environment, not a CLI flag: flags are
	// visible via ps to every other user on the box.
	password := os.Getenv("CONTINUITY_PASSWORD")
	if password == "" {
		log.Warn("CONTINUITY_PASSWORD not set, keystore will use an empty password")
	}

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key: %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	if *genCerts != "" {
		cfgForCerts, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfgForCerts.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfgForCerts.NodeID)
		return
	}

	if *createGenesis {
		cfg, err := loadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		privKey, err := wallet.LoadKey(*keyPath, password)
		if err != nil {
			log.Fatalf("load key: %v", err)
		}
		genesis, err := config.CreateGenesis(cfg, privKey, time.Now().Unix())
		if err != nil {
			log.Fatalf("creategenesis: %v", err)
		}
		data, err := json.MarshalIndent(genesis, "", "  ")
		if err != nil {
			log.Fatalf("creategenesis: marshal: %v", err)
		}
		if err := os.WriteFile(*genesisPath, data, 0644); err != nil {
			log.Fatalf("creategenesis: write %s: %v", *genesisPath, err)
		}
		fmt.Printf("Genesis bundle written to %s (merge event %s)\n", *genesisPath, genesis.MergeEvent.EventHash)
		fmt.Println("Copy this file to every witness node's -genesis path before starting them.")
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load validator key ----
	privKey, err := wallet.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	selfID := privKey.Public().Hex()

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// One LevelDB instance backs all three logical tables; each store
	// separates its keys with its own prefix.
	store := dag.NewDBStore(db)
	blocks := block.NewDBStore(db)
	registry := peer.NewDBRegistry(db, cfg.Reputation.ToPeerConfig())

	// The genesis bundle is loaded unconditionally, fresh chain or not:
	// besides seeding a new chain, its merge event hash is the tree
	// parent merge.Merger falls back to until this node produces a
	// merge event of its own.
	genesis, err := loadGenesisBundle(*genesisPath)
	if err != nil {
		log.Fatalf("genesis: %v (run -creategenesis once and copy the bundle to every witness node)", err)
	}

	if _, ok, err := blocks.Tip(); err != nil {
		log.Fatalf("read tip: %v", err)
	} else if !ok {
		if _, err := store.Insert(genesis.MergeEvent, dag.OriginPeer); err != nil {
			log.Fatalf("genesis: insert merge event: %v", err)
		}
		if _, err := store.Insert(genesis.ConfigEvent, dag.OriginPeer); err != nil {
			log.Fatalf("genesis: insert config event: %v", err)
		}
		if err := blocks.Append(genesis.Block); err != nil {
			log.Fatalf("genesis: append block: %v", err)
		}
		if err := store.MarkConsensus(genesis.Block.Events, 0, genesis.Block.Header.Timestamp); err != nil {
			log.Fatalf("genesis: mark consensus: %v", err)
		}
		if err := registry.SetWitnesses(cfg.Genesis.Witnesses); err != nil {
			log.Fatalf("genesis: set witnesses: %v", err)
		}
		log.Infof("genesis committed: block %s", genesis.Block.Header.BlockHash)
	}

	for _, sp := range cfg.SeedPeers {
		if err := registry.Upsert(&peer.Record{PeerID: sp.ID, Address: sp.Addr, IsRecommended: true}); err != nil {
			log.Warnf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
		}
	}

	// ---- ambient stack ----
	emitter := notify.NewEmitter(log)
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg)

	// ---- domain collaborators ----
	merger := merge.New(store, cfg.Thresholds.ToMergeConfig(), selfID, privKey, genesis.MergeEvent.EventHash)
	engine := consensus.New()
	selector := witness.NewDeterministic()

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Info("mTLS enabled for gossip")
	}

	// ---- gossip ----
	transport := gossip.NewHTTPTransport(tlsCfg)
	gossipClient := gossip.NewClient(transport, store)
	gossipSource := &worker.GossipSource{LedgerID: cfg.Genesis.LedgerID, Store: store, Blocks: blocks}
	gossipAddr := fmt.Sprintf(":%d", cfg.GossipPort)
	gossipServer := gossip.NewServer(gossipAddr, gossipSource, log)
	if err := gossipServer.Start(); err != nil {
		log.Fatalf("gossip start: %v", err)
	}
	defer gossipServer.Stop(context.Background()) //nolint:errcheck
	log.Infof("gossip listening on %s", gossipAddr)

	// ---- worker ----
	w := worker.New(worker.Deps{
		LedgerID:  cfg.Genesis.LedgerID,
		SelfID:    selfID,
		Store:     store,
		Blocks:    blocks,
		Peers:     registry,
		Merger:    merger,
		Consensus: engine,
		Selector:  selector,
		Gossip:    gossipClient,
		Emitter:   emitter,
		Metrics:   collector,
		Log:       log,
	})

	// ---- RPC ----
	opBytes := cfg.MaxOperationBytes
	if opBytes <= 0 {
		opBytes = validator.DefaultMaxOperationBytes
	}
	rpcHandler := rpc.NewHandler(store, blocks, registry, cfg.Genesis)
	rpcHandler.EnableOperationSubmission(wallet.New(privKey), validator.NewSizeLimit(opBytes), w.Wake)
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken, log)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop(context.Background()) //nolint:errcheck
	log.Infof("rpc listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Info("rpc bearer token authentication enabled")
	}

	// ---- metrics endpoint ----
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.RPCPort+1), Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()
	defer metricsSrv.Shutdown(context.Background()) //nolint:errcheck

	// ---- worker loop ----
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx, 2*time.Second)
	}()
	log.Infof("worker running (node: %s)", selfID)

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	// Stop the worker first so no new merge/consensus activity races the
	// deferred shutdown of gossip, RPC and the database below.
	cancel()
	wg.Wait()

	log.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Printf("config file not found at %s, using defaults", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func loadGenesisBundle(path string) (*config.Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var genesis config.Genesis
	if err := json.Unmarshal(data, &genesis); err != nil {
		return nil, err
	}
	return &genesis, nil
}
