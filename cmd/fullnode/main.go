// Command fullnode runs a single coinmesh peer: it owns a ledger, a wallet,
// a pluggable consensus rule, the TCP gossip transport and the sync
// protocol, and optionally the /metrics and /status HTTP endpoints.
//
// Root command: `fullnode`
// Sub-routes:
//
//	start    – run a node until SIGINT/SIGTERM
//	wallet   – generate or inspect a wallet offline, no network
//
// Env vars (read via viper.AutomaticEnv, same keys as cmd/fullnode/config/default.yaml,
// no prefix — e.g. NETWORK_LISTEN_ADDR, CONSENSUS_KIND, LEDGER_SNAPSHOT_PATH):
//
//	NETWORK_LISTEN_ADDR, NETWORK_PEERS_FILE, CONSENSUS_KIND, CONSENSUS_DIFFICULTY,
//	LEDGER_SNAPSHOT_PATH, LOGGING_LEVEL, METRICS_ADDR, COINMESH_ENV (selects an overlay file)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"coinmesh/core"
	"coinmesh/pkg/config"
)

// flagOrConfig returns the flag's value unless the user left it at its
// default AND a loaded file config supplies a non-empty override for it —
// flags always win once the user actually sets one.
func flagOrConfig(cmd *cobra.Command, flagName string, fileCfg *config.Config, get func(*config.Config) string) string {
	v, _ := cmd.Flags().GetString(flagName)
	if !cmd.Flags().Changed(flagName) && fileCfg != nil {
		if fromFile := get(fileCfg); fromFile != "" {
			return fromFile
		}
	}
	return v
}

func main() {
	root := &cobra.Command{Use: "fullnode"}
	root.AddCommand(startCmd())
	root.AddCommand(walletCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "run a coinmesh full node until interrupted",
		RunE:  runStart,
	}
	cmd.Flags().String("listen", "127.0.0.1:9100", "TCP address to listen on for peer gossip")
	cmd.Flags().String("consensus", "puzzle", "consensus kind: puzzle or stake")
	cmd.Flags().Float64("difficulty", 1, "initial consensus difficulty")
	cmd.Flags().String("peers-file", "", "YAML file of bootstrap peer listen addresses")
	cmd.Flags().String("snapshot", "", "ledger snapshot file path; empty disables load/save")
	cmd.Flags().String("metrics-addr", "", "address for /metrics and /status; empty disables the HTTP server")
	cmd.Flags().String("events-log", "./coinmesh-events.log", "path to the JSON event log written by the health logger")
	cmd.Flags().String("mnemonic", "", "BIP-39 mnemonic to recover the node wallet; empty generates a fresh one")
	cmd.Flags().Bool("mine", false, "start mining immediately after a successful sync")
	cmd.Flags().Bool("hard-sync", false, "discard the local chain and replace it wholesale from the tallest peer")
	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	// cmd/fullnode/config/default.yaml (plus any COINMESH_ENV-named overlay
	// and environment variables) supplies the base configuration; explicit
	// flags take precedence over it.
	fileCfg, cfgErr := config.LoadFromEnv()
	if cfgErr != nil {
		fileCfg = nil
	}

	listen := flagOrConfig(cmd, "listen", fileCfg, func(c *config.Config) string { return c.Network.ListenAddr })
	kind := flagOrConfig(cmd, "consensus", fileCfg, func(c *config.Config) string { return c.Consensus.Kind })
	peersFile := flagOrConfig(cmd, "peers-file", fileCfg, func(c *config.Config) string { return c.Network.PeersFile })
	snapshotPath := flagOrConfig(cmd, "snapshot", fileCfg, func(c *config.Config) string { return c.Ledger.SnapshotPath })
	metricsAddr := flagOrConfig(cmd, "metrics-addr", fileCfg, func(c *config.Config) string { return c.Metrics.Addr })

	difficulty, _ := cmd.Flags().GetFloat64("difficulty")
	if !cmd.Flags().Changed("difficulty") && fileCfg != nil && fileCfg.Consensus.Difficulty != 0 {
		difficulty = fileCfg.Consensus.Difficulty
	}
	mnemonic, _ := cmd.Flags().GetString("mnemonic")
	eventsLog, _ := cmd.Flags().GetString("events-log")
	autoMine, _ := cmd.Flags().GetBool("mine")
	hardSync, _ := cmd.Flags().GetBool("hard-sync")

	log := logrus.StandardLogger()
	logLevel := ""
	if fileCfg != nil {
		logLevel = fileCfg.Logging.Level
	}
	if logLevel != "" {
		if parsed, err := logrus.ParseLevel(logLevel); err == nil {
			log.SetLevel(parsed)
		}
	}

	wallet, err := loadOrCreateWallet(mnemonic, log)
	if err != nil {
		return fmt.Errorf("wallet: %w", err)
	}

	ledger := core.NewLedger(afero.NewOsFs(), log)
	ledger.Append(core.NewGenesisBlock(consensusKind(kind), core.ZeroAddress, nil, float64(time.Now().Unix())))
	if snapshotPath != "" {
		if loaded, err := ledger.SnapshotLoad(snapshotPath, false); err != nil {
			log.WithError(err).Warn("snapshot load failed, starting from genesis")
		} else if loaded {
			log.WithField("height", ledger.Height()).Info("loaded ledger snapshot")
		}
	}

	var consensus core.Consensus
	switch consensusKind(kind) {
	case core.ConsensusStake:
		consensus = core.NewStakeConsensus(wallet, difficulty, log)
	default:
		consensus = core.NewPuzzleConsensus(difficulty, log)
	}

	transport := core.NewTransport(listen, log)
	node := core.NewNode(ledger, wallet, consensus, transport, listen, log)

	if err := node.Start(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.WithField("addr", listen).Info("node listening")

	if peersFile != "" {
		pl, err := config.LoadPeerList(peersFile)
		if err != nil {
			log.WithError(err).Warn("peers file load failed")
		}
		for _, p := range pl.Peers {
			if err := transport.Dial(p, listen, pl.Peers); err != nil {
				log.WithError(err).WithField("peer", p).Warn("bootstrap dial failed")
			}
		}
	}

	health, err := core.NewHealthLogger(node, eventsLog)
	if err != nil {
		return fmt.Errorf("health logger: %w", err)
	}
	defer health.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go health.RunMetricsCollector(ctx, 5*time.Second)

	var metricsSrv interface{ Shutdown(context.Context) error }
	if metricsAddr != "" {
		srv := health.StartServer(metricsAddr)
		metricsSrv = srv
		log.WithField("addr", metricsAddr).Info("metrics server listening")
	}

	state := node.Sync(hardSync, autoMine)
	log.WithField("state", state).Info("initial sync finished")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if snapshotPath != "" {
		if _, err := ledger.SnapshotSave(snapshotPath, true, float64(time.Now().Unix())); err != nil {
			log.WithError(err).Warn("snapshot save failed")
		}
	}
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return node.Shutdown()
}

func consensusKind(s string) core.ConsensusKind {
	if s == "stake" {
		return core.ConsensusStake
	}
	return core.ConsensusPuzzle
}

func loadOrCreateWallet(mnemonic string, log *logrus.Logger) (*core.Wallet, error) {
	if mnemonic != "" {
		return core.WalletFromMnemonic(mnemonic, "")
	}
	w, generated, err := core.NewRandomWallet()
	if err != nil {
		return nil, err
	}
	log.WithField("address", w.Address()).Warn("generated a fresh wallet; save this mnemonic to recover it")
	fmt.Fprintln(os.Stderr, generated)
	return w, nil
}

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wallet"}
	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "generate a fresh wallet mnemonic and address, offline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, mnemonic, err := core.NewRandomWallet()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nmnemonic: %s\n", w.Address(), mnemonic)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "address [mnemonic]",
		Short: "derive the address for an existing mnemonic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := core.WalletFromMnemonic(args[0], "")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), w.Address())
			return nil
		},
	})
	return cmd
}
