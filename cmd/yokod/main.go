package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"YokoFund/internal/config"
	"YokoFund/internal/core"
	"YokoFund/internal/event"
	"YokoFund/internal/genesis"
	"YokoFund/internal/ingestion"
	"YokoFund/internal/observability"
	"YokoFund/internal/persistence"
	"YokoFund/internal/program"
	"YokoFund/internal/projection"
	"YokoFund/internal/query"
	"YokoFund/internal/router"
	"YokoFund/internal/runtime"
	"YokoFund/internal/server"
	"YokoFund/internal/token"
	"YokoFund/migrations"
)

const replayBatchSize = 1000

func main() {
	log := observability.NewLogger("yokod")

	app := &cli.App{
		Name:  "yokod",
		Usage: "sequence, persist and serve YokoFund transactions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "env file to load before reading YOKO_* variables",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.String("env"), log)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("yokod stopped")
	}
	log.Info().Msg("yokod shutdown complete")
}

func run(envFile string, log zerolog.Logger) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ids, err := cfg.Identities()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	healthChecker.Register("postgres", db.PingContext)

	applied, err := persistence.NewMigrator(db, migrations.FS, observability.NewLogger("migrator")).Up(ctx)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Programs ---
	tokens := token.NewProgram(ids.Token)
	pools := router.NewConstantProduct(ids.Program.RouterID, tokens)
	fund := program.New(ids.Program, tokens, pools)
	accounts := runtime.NewAccountsDB()
	programs := projection.Programs{Fund: fund.ID(), Token: tokens.ID()}

	// --- Channels ---
	// The persist channel blocks the core when full; the projection and
	// publish channels drop.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableResult, cfg.PublishChanSize)
	submitChan := make(chan ingestion.Submission, cfg.SubmitChanSize)

	snapMgr := persistence.NewSnapshotManager(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	coreCfg := core.DefaultConfig()
	coreCfg.IdempotencyCapacity = cfg.IdempotencyLRUCapacity
	coreCfg.InvariantCheckInterval = cfg.InvariantCheckInterval

	engine := &guardedCore{core: core.NewDeterministicCore(
		coreCfg, accounts, fund, tokens,
		persistCoreChan, projectionCoreChan,
		dbChecker, metrics, observability.NewLogger("core"),
	)}

	// --- Recovery ---
	if err := restoreState(ctx, cfg, engine.core, snapMgr, dbChecker, accounts, tokens, pools, coreCfg.Rent, log); err != nil {
		return err
	}
	if err := projection.RebuildProjections(ctx, db, programs, accounts.Snapshot(), engine.core.GetSequence(), observability.NewLogger("projection")); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}

	// --- NATS ---
	var js natsHandles
	if cfg.NATSEnabled {
		nc, jsCtx, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, jsCtx, log); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		healthChecker.Register("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
		js = natsHandles{enabled: true, js: jsCtx}
		js.raw = make(chan ingestion.RawEvent, cfg.SubmitChanSize)
		js.subscriber = ingestion.NewNATSSubscriber(jsCtx, js.raw, observability.NewLogger("nats-subscriber"))
	}

	// --- Servers ---
	claims := projection.NewClaimHistoryProjection(cfg.ClaimHistoryCapacity)
	srv, err := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Submitter:     ingestion.NewSubmitService(submitChan, metrics),
		Querier:       query.NewQueryService(db, metrics),
		Claims:        claims,
		HealthChecker: healthChecker,
		Gatherer:      reg,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	// Downstream workers outlive ingress: they drain their channels after the
	// sequencer has stopped and only then return.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var workers errgroup.Group
	supervise := func(name string, fn func(context.Context) error) {
		workers.Go(func() error {
			err := fn(workerCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("worker", name).Msg("worker failed")
				stop()
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	supervise("persistence", persistWorker.Run)
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, programs, claims, metrics, observability.NewLogger("projection"))
	supervise("projection", projWorker.Run)
	supervise("bridge", func(ctx context.Context) error {
		bridgeCoreOutputs(ctx, persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, js.enabled, metrics)
		return nil
	})
	if js.enabled {
		supervise("publisher", ingestion.NewOutboundPublisher(js.js, publishChan, observability.NewLogger("publisher")).Run)
	}

	// Ingress stops on signal or the first failure.
	ingress, ictx := errgroup.WithContext(ctx)
	sequencer := ingestion.NewSequencer(engine, submitChan, metrics, observability.NewLogger("sequencer"))
	ingress.Go(func() error { return ignoreCanceled(sequencer.Run(ictx)) })
	ingress.Go(func() error { return srv.StartGRPC(ictx) })
	ingress.Go(func() error { return srv.StartHTTP(ictx) })
	ingress.Go(func() error {
		runPeriodicSnapshots(ictx, engine, snapMgr, cfg.SnapshotInterval, cfg.SnapshotCheckEvery, metrics, observability.NewLogger("snapshot"))
		return nil
	})
	if js.enabled {
		if err := js.subscriber.Subscribe(ictx); err != nil {
			stop()
			return fmt.Errorf("nats subscribe: %w", err)
		}
		ingress.Go(func() error {
			return ignoreCanceled(ingestion.RunIntake(ictx, js.raw, submitChan, metrics, observability.NewLogger("intake")))
		})
	}

	srv.SetServing(true)
	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", engine.core.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Bool("nats", js.enabled).
		Msg("yokod ready")

	ingressErr := ingress.Wait()
	healthChecker.SetReady(false)
	srv.SetServing(false)
	if js.enabled {
		js.subscriber.Stop()
	}
	if ingressErr != nil {
		log.Error().Err(ingressErr).Msg("ingress failed, shutting down")
	} else {
		log.Info().Msg("shutting down")
	}

	// The sequencer has returned so the core emits nothing more. Closing its
	// output channels lets every worker drain and exit.
	close(persistCoreChan)
	close(projectionCoreChan)

	drained := make(chan error, 1)
	go func() { drained <- workers.Wait() }()
	var workerErr error
	select {
	case workerErr = <-drained:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("workers did not drain in time")
		cancelWorkers()
		workerErr = <-drained
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := takeSnapshot(shutdownCtx, engine, snapMgr, metrics, log); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	}

	return errors.Join(ingressErr, workerErr)
}

// natsHandles groups what the daemon holds when NATS is enabled.
type natsHandles struct {
	enabled    bool
	js         jetstream.JetStream
	raw        chan ingestion.RawEvent
	subscriber *ingestion.NATSSubscriber
}

// guardedCore serialises the sequencer and the snapshot loop over one core.
type guardedCore struct {
	mu   sync.Mutex
	core *core.DeterministicCore
}

func (g *guardedCore) ProcessTransaction(tx *event.Transaction) (*core.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.core.ProcessTransaction(tx)
}

func (g *guardedCore) snapshot() *core.SnapshotState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.core.CreateSnapshotState()
}

// restoreState restores the core from the latest verified snapshot, or applies
// genesis on a cold start, then replays the event log to its head.
func restoreState(
	ctx context.Context,
	cfg *config.Config,
	c *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	dbChecker *persistence.PostgresIdempotencyChecker,
	accounts *runtime.AccountsDB,
	tokens *token.Program,
	pools *router.ConstantProduct,
	rent runtime.Rent,
	log zerolog.Logger,
) error {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	if snap != nil {
		state, err := snap.ToCore()
		if err != nil {
			return fmt.Errorf("decode snapshot at seq=%d: %w", snap.Sequence, err)
		}
		c.RestoreFromSnapshot(state)
	} else {
		head, err := snapMgr.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("latest sequence: %w", err)
		}
		log.Info().Int64("log_head", head).Msg("no snapshot found, cold start")
		if cfg.GenesisFile != "" {
			g, err := genesis.Load(cfg.GenesisFile)
			if err != nil {
				return err
			}
			res, err := g.Apply(accounts, tokens, pools, rent)
			if err != nil {
				return fmt.Errorf("apply genesis: %w", err)
			}
			c.ResyncBalances()
			log.Info().
				Str("file", cfg.GenesisFile).
				Int("pools", len(res.Pools)).
				Int("holdings", len(res.Holdings)).
				Int("changes", res.Changes).
				Msg("genesis applied")
		}
	}

	replayed, err := replayTransactions(ctx, c, snapMgr, c.GetSequence()+1)
	if err != nil {
		return err
	}
	if replayed > 0 {
		log.Info().Int64("replayed", replayed).Int64("sequence", c.GetSequence()).Msg("event log replayed")
	}

	keys, err := dbChecker.RecentKeys(ctx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		return fmt.Errorf("warm idempotency cache: %w", err)
	}
	c.WarmLRU(keys)
	return nil
}

// replayTransactions feeds every logged transaction from fromSequence to the
// core. Each must land on its recorded state hash.
func replayTransactions(ctx context.Context, c *core.DeterministicCore, snapMgr *persistence.SnapshotManager, fromSequence int64) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadTransactionsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load transactions from seq=%d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return total, nil
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return total, err
			}
			if err := c.ReplayEnvelope(env); err != nil {
				return total, fmt.Errorf("replay: %w", err)
			}
			total++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
