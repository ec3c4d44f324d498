// Package agent orchestrates all components: COMMS receiver, handler chain, status tasker,
// HTTP health and metrics.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/morezero/guest-agent/internal/config"
	"github.com/morezero/guest-agent/pkg/apt"
	"github.com/morezero/guest-agent/pkg/commsutil"
	"github.com/morezero/guest-agent/pkg/db"
	"github.com/morezero/guest-agent/pkg/dbadmin"
	"github.com/morezero/guest-agent/pkg/dispatcher"
	"github.com/morezero/guest-agent/pkg/events"
	"github.com/morezero/guest-agent/pkg/metrics"
	"github.com/morezero/guest-agent/pkg/periodic"
	"github.com/morezero/guest-agent/pkg/status"
)

const logPrefix = "agent:agent"

// Version is the agent build version, set at link time with
// -ldflags "-X github.com/morezero/guest-agent/internal/agent.Version=...".
var Version = "dev"

// Agent is the guest agent orchestrator.
type Agent struct {
	cfg        *config.Config
	host       string
	subject    string
	nc         *comms.Conn
	receiver   *commsutil.Receiver
	loop       *dispatcher.Loop
	flag       *dispatcher.ShutdownFlag
	updater    *status.Updater
	tasker     *periodic.Tasker
	admin      *db.AdminStore
	metrics    *metrics.Registry
	refreshes  *refreshTracker
	httpServer *http.Server
}

// Run starts the agent and blocks until it is told to exit, receives SIGINT or SIGTERM, or
// fails. A clean shutdown returns nil.
func Run(ctx context.Context, cfg *config.Config) error {
	ConfigureLogging(cfg.LogLevel)
	slog.Info(fmt.Sprintf("%s - Starting guest-agent %s", logPrefix, Version))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Serve(ctx)
}

// New connects to COMMS and builds every component. Nothing is served until Serve.
func New(ctx context.Context, cfg *config.Config) (*Agent, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read hostname: %w", logPrefix, err)
	}

	a := &Agent{
		cfg:     cfg,
		host:    host,
		subject: cfg.Subject(host),
		flag:    &dispatcher.ShutdownFlag{},
		metrics: metrics.NewRegistry(),
	}

	// Step 1: Optional status schema migrations
	if cfg.RunMigrations {
		if err := MigrateStatus(ctx, cfg); err != nil {
			return nil, err
		}
	}

	probeCfg, err := NewProbeConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Step 2: Connect to COMMS
	nc, err := commsutil.Connect(commsutil.ConnectParams{
		URL:      cfg.COMMSURL,
		Name:     cfg.COMMSName,
		User:     cfg.COMMSUser,
		Password: cfg.COMMSPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}
	a.nc = nc

	// Step 3: Status updater and tasker. Refresh outcomes flow tracker -> notifier -> metrics.
	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.PublishStatusEvents {
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.StatusEventSubject})
	}
	a.refreshes = &refreshTracker{next: events.NewStatusNotifier(publisher, a.metrics)}
	a.updater = status.NewUpdater(status.UpdaterParams{
		Conn:     db.NewStatusConn(cfg.StatusDatabaseURL),
		Schema:   cfg.StatusSchema,
		NewProbe: status.NewSystemProbeFactory(probeCfg),
		Observer: a.refreshes,
	})
	a.tasker = periodic.NewTasker(periodic.TaskerParams{
		Interval:         cfg.Interval(),
		Refresher:        a.updater,
		Flag:             a.flag,
		CancellableSleep: cfg.PeriodicCancellableSleep,
	})

	// Step 4: Handler chain. Order is part of the contract: first match wins.
	guest := apt.NewGuest(apt.GuestParams{UseSudo: cfg.AptUseSudo, Timeout: cfg.AptTimeout})
	a.admin = db.NewAdminStore(cfg.LocalDatabaseURL)
	chain := dispatcher.NewChain(
		dispatcher.NewControlHandler(host),
		apt.NewHandler(guest, cfg.AgentPackage),
		dbadmin.NewHandler(dbadmin.HandlerParams{
			Store:         a.admin,
			Installer:     guest,
			ServerPackage: cfg.DatabaseServerPackage,
		}),
	)

	// Step 5: Subscribe
	receiver, err := commsutil.NewReceiver(nc, a.subject, cfg.COMMSPendingLimit)
	if err != nil {
		nc.Close()
		return nil, err
	}
	a.receiver = receiver
	a.loop = dispatcher.NewLoop(dispatcher.LoopParams{
		Transport:                receiver,
		Chain:                    chain,
		Flag:                     a.flag,
		Observer:                 a.metrics,
		PropagateTransportErrors: cfg.PropagateTransportErrors,
	})

	slog.Info(fmt.Sprintf("%s - Guest %s listening on %s with %d handlers", logPrefix, host, receiver.Subject(), chain.Len()))
	return a, nil
}

// Serve runs the dispatch loop and the periodic tasker until both have stopped.
func (a *Agent) Serve(ctx context.Context) error {
	a.startHTTP()

	g, gctx := errgroup.WithContext(ctx)
	taskerCtx, stopTasker := context.WithCancel(gctx)
	defer stopTasker()

	g.Go(func() error {
		err := a.loop.Run(gctx)
		// The loop is done for good; the tasker stops at its next flag check.
		a.flag.Set()
		if a.cfg.PeriodicCancellableSleep {
			stopTasker()
		}
		return err
	})
	g.Go(func() error {
		return a.tasker.Run(taskerCtx)
	})

	err := g.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		slog.Info(fmt.Sprintf("%s - Shutdown requested", logPrefix))
		err = nil
	}
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Stopped with error: %v", logPrefix, err))
		return err
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// Close releases every resource. Safe to call once after Serve returns.
func (a *Agent) Close() {
	if a.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	if a.receiver != nil {
		a.receiver.Close()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.updater != nil {
		a.updater.Close(context.Background())
	}
	if a.admin != nil {
		a.admin.Close()
	}
}

// Subject returns the subject the agent listens on.
func (a *Agent) Subject() string {
	return a.subject
}

// NewProbeConfig builds the status probe configuration from cfg.
func NewProbeConfig(cfg *config.Config) (status.ProbeConfig, error) {
	network, address, err := status.ServerEndpoint(cfg.LocalDatabaseURL)
	if err != nil {
		return status.ProbeConfig{}, err
	}
	return status.ProbeConfig{
		Device:        cfg.EthernetDevice,
		ServerProcess: cfg.DatabaseServerProcess,
		ServerNetwork: network,
		ServerAddress: address,
		DiskPath:      cfg.DiskPath,
		AgentVersion:  Version,
	}, nil
}

// MigrateStatus creates the status schema if needed and applies the migrations to it.
func MigrateStatus(ctx context.Context, cfg *config.Config) error {
	pool, err := db.NewPool(ctx, cfg.StatusDatabaseURL, db.WithSearchPath(cfg.StatusSchema))
	if err != nil {
		return fmt.Errorf("%s - connect status database: %w", logPrefix, err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool, cfg.StatusSchema); err != nil {
		return err
	}
	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	return nil
}
