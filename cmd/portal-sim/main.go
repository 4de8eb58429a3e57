// Command portal-sim runs the sync engine against an in-memory document
// backend and walks through the portal's core flows: live views, an offline
// write, reconnect flush, and conflict resolution.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/telecare/caresync"
	"github.com/telecare/caresync/logging"
	"github.com/telecare/caresync/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	dbPath := flag.String("db", "portal-sim.db", "sqlite file for offline actions")
	flag.Parse()

	logging.Init(logging.GetConfigFromEnv())
	logger := logging.Default().WithComponent(logging.Component("portal-sim"))

	if err := run(context.Background(), logger, *configPath, *dbPath); err != nil {
		logger.Error("simulation failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *logging.Logger, configPath, dbPath string) error {
	config := caresync.DefaultServiceConfig()
	if configPath != "" {
		loaded, err := caresync.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		config = loaded
	}

	actions, err := sqlite.NewWithDataSource(dbPath)
	if err != nil {
		return fmt.Errorf("opening action store: %w", err)
	}
	defer actions.Close()

	// The document backend is an in-memory stand-in for the portal gateway
	// so the simulation can drive server-side pushes directly.
	store := caresync.NewTestDocumentStore()
	monitor := caresync.NewNetworkMonitor()
	opts := config.ServiceOptions()

	service, err := caresync.NewServiceBuilder().
		WithStore(store).
		WithActionStore(actions).
		WithMonitor(monitor).
		WithMaxRetries(config.Queue.MaxRetries).
		WithRetryAttempts(opts.RetryAttempts).
		WithRetryBackoff(opts.RetryBackoff).
		Build(ctx)
	if err != nil {
		return fmt.Errorf("building service: %w", err)
	}
	defer service.Close()

	view, err := caresync.NewAppointmentsView(ctx, service, caresync.Filters{"patient_id": "p-100"})
	if err != nil {
		return fmt.Errorf("opening appointments view: %w", err)
	}
	defer view.Close()

	view.OnChange(func() {
		logger.Info("view changed",
			slog.Int("records", len(view.Data())),
			slog.Bool("loading", view.IsLoading()))
	})

	// Server pushes the initial snapshot.
	store.Deliver("appointments", []caresync.UpdateEnvelope{
		{Type: caresync.UpdateAdded, ID: "apt-1", Data: caresync.Document{
			"id": "apt-1", "patient_id": "p-100", "status": "scheduled",
			"scheduled_time": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		}},
	})
	logger.Info("initial snapshot applied", slog.Int("records", len(view.Data())))

	// Connectivity drops; the next write queues instead of failing.
	monitor.SetOnline(false)
	err = service.Write(ctx, caresync.WriteRequest{
		Kind:       caresync.WriteUpdate,
		Collection: "appointments",
		DocumentID: "apt-1",
		Data: caresync.Document{
			"id": "apt-1", "patient_id": "p-100", "status": "cancelled",
		},
	})
	if err != nil {
		return fmt.Errorf("offline write: %w", err)
	}
	logger.Info("write queued while offline",
		slog.Int("pending", service.Queue().Pending()))

	// Reconnect drains the queue.
	monitor.SetOnline(true)
	logger.Info("reconnected",
		slog.Int("pending", service.Queue().Pending()),
		slog.Int("server_writes", len(store.Writes())))

	metrics := service.Metrics()
	logger.Info("simulation complete",
		slog.Int("active_listeners", metrics.ActiveListeners),
		slog.Int("pending_actions", metrics.PendingActions),
		slog.Time("last_sync", metrics.LastSyncTime))

	return nil
}
