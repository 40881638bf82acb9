package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relayq/relayq/pkg/admission"
	"github.com/relayq/relayq/pkg/config"
	"github.com/relayq/relayq/pkg/dispatch"
	"github.com/relayq/relayq/pkg/idempotency"
	"github.com/relayq/relayq/pkg/notification"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/store"
	"github.com/relayq/relayq/pkg/tenant"
)

// newDLQCommand builds the dead-letter queue operator commands.
func newDLQCommand(loadConfig func() (*config.Config, logger.Logger, error)) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered notifications",
	}

	var lane string
	dlqCmd.PersistentFlags().StringVar(&lane, "lane", notification.LaneWebhook, "original lane (email or webhook)")

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered notifications for a lane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			service, cleanup, err := buildOpsService(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := service.ListDeadLetters(cmd.Context(), lane, limit)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			for _, entry := range entries {
				if err := encoder.Encode(entry); err != nil {
					return err
				}
			}
			log.Info("dead letters listed", "lane", lane, "count", len(entries))
			return nil
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to list")
	dlqCmd.AddCommand(listCmd)

	replayCmd := &cobra.Command{
		Use:   "replay [entry-id...]",
		Short: "Replay dead-lettered notifications back onto their lane",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			service, cleanup, err := buildOpsService(cfg, log)
			if err != nil {
				return err
			}
			defer cleanup()

			replayed, err := service.ReplayDeadLetters(cmd.Context(), lane, args)
			if err != nil {
				return err
			}
			fmt.Printf("replayed %d of %d entries\n", replayed, len(args))
			return nil
		},
	}
	dlqCmd.AddCommand(replayCmd)

	return dlqCmd
}

// buildOpsService assembles a dispatch service for operator commands. The
// admission path is never exercised here so the local limiter suffices.
func buildOpsService(cfg *config.Config, log logger.Logger) (*dispatch.Service, func(), error) {
	adapter, err := store.NewPostgresAdapter(postgresConfig(cfg), log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	backend, err := buildQueueBackend(cfg, log)
	if err != nil {
		adapter.Close()
		return nil, nil, fmt.Errorf("create queue backend: %w", err)
	}

	cleanup := func() {
		if err := backend.Close(); err != nil {
			log.Error("failed to close queue backend", "error", err)
		}
		if err := adapter.Close(); err != nil {
			log.Error("failed to close postgres adapter", "error", err)
		}
	}

	service, err := buildServiceOver(adapter, backend, cfg, log)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return service, cleanup, nil
}

func buildServiceOver(adapter *store.PostgresAdapter, backend queueBackend, cfg *config.Config, log logger.Logger) (*dispatch.Service, error) {
	notifications, err := store.NewPostgresNotificationStore(adapter)
	if err != nil {
		return nil, err
	}
	ledger, err := store.NewPostgresDeliveryLedger(adapter)
	if err != nil {
		return nil, err
	}
	tenants, err := tenant.NewPostgresStore(adapter)
	if err != nil {
		return nil, err
	}
	gate, err := admission.NewGate(tenants, admission.NewLocalLimiter(cfg.RateLimit.Window), log)
	if err != nil {
		return nil, err
	}
	resolver, err := idempotency.NewResolver(notifications, log)
	if err != nil {
		return nil, err
	}
	return dispatch.NewService(gate, resolver, backend, notifications, ledger, log)
}
