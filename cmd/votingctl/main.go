// Package main provides votingctl, a command line client for the on-chain
// voting program.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cometbft/cometbft/libs/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"voting-client/internal/cache"
	"voting-client/internal/config"
	dbpkg "voting-client/internal/db"
	"voting-client/internal/ledger"
	"voting-client/internal/logger"
	"voting-client/internal/metrics"
	"voting-client/internal/voting"
	"voting-client/internal/wallet"
)

const debugLogFile = "votingctl.log"

// app holds everything a command needs. It is filled in before any command runs.
type app struct {
	envFile string

	cfg       config.Config
	log       log.Logger
	logCloser io.Closer
	metrics   *metrics.Metrics
	store     *cache.Store
	journal   *dbpkg.Journal
	client    *voting.Client
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, &app{}, os.Args[1:])
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// run executes the command line args and releases whatever setup acquired,
// also when setup or the command fails.
func run(ctx context.Context, a *app, args []string) (err error) {
	defer func() {
		if cerr := a.close(); err == nil {
			err = cerr
		}
	}()
	c := rootCommand(a)
	c.SetArgs(args)
	return c.ExecuteContext(ctx)
}

func rootCommand(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:          "votingctl",
		Short:        "Creates polls, registers candidates and casts votes on the voting program",
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return a.setup(c.Name() == "monitor")
		},
	}
	c.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded when present")
	c.AddCommand(
		monitorCommand(a),
		pollsCommand(a),
		candidatesCommand(a),
		pollCommand(a),
		programCommand(a),
		createPollCommand(a),
		addCandidateCommand(a),
		voteCommand(a),
	)
	return c
}

func (a *app) setup(tui bool) error {
	// Try to load .env if present; otherwise use environment as-is
	if _, statErr := os.Stat(a.envFile); statErr == nil {
		_ = godotenv.Load(a.envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log = logger.New(cfg.Debug)
	if tui {
		// the dashboard owns the terminal: debug logs go to a file, the rest is dropped
		a.log = logger.Discard()
		if cfg.Debug {
			logFile, err := os.OpenFile(debugLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				a.log = logger.NewWithWriter(true, logFile)
				a.logCloser = logFile
				fmt.Fprintf(os.Stderr, "Debug logs written to %s\n", debugLogFile)
			} else {
				fmt.Fprintf(os.Stderr, "Warning: failed to open log file, debug logs disabled: %v\n", err)
			}
		}
	}
	a.log.Debug("config loaded", "config", cfg.DebugString())

	a.metrics, err = metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	gormDB, err := dbpkg.Open(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if gormDB != nil {
		a.log.Debug("DB connected")
		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.log.Debug("Migrations applied")
	} else {
		a.log.Debug("DATABASE_URL not provided, persistence disabled")
	}
	a.journal = dbpkg.NewJournal(gormDB)

	var signer wallet.Signer
	if cfg.KeypairPath != "" {
		kp, err := wallet.LoadKeypair(cfg.KeypairPath)
		if err != nil {
			return err
		}
		signer = kp
		a.log.Debug("wallet loaded", "pubkey", kp.PublicKey())
	} else {
		a.log.Debug("no keypair configured, read-only")
	}

	a.store = cache.New(cache.WithLogger(a.log), cache.WithMetrics(a.metrics))
	a.client = voting.New(a.store, voting.Cluster{
		Name:      cfg.Cluster,
		ProgramID: cfg.ProgramID,
		Ledger:    ledger.NewRPC(cfg.RPCURL, cfg.Commitment, cfg.RPCRPS),
	}, signer,
		voting.WithLogger(a.log),
		voting.WithMetrics(a.metrics),
		voting.WithRecorder(a.journal),
		voting.WithConfirmTimeout(cfg.ConfirmTimeout),
	)
	return nil
}

func (a *app) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
		a.logCloser = nil
	}
	return err
}
