package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"temporal-fulfillment/api"
	"temporal-fulfillment/audit"
	"temporal-fulfillment/config"
	"temporal-fulfillment/models"
	"temporal-fulfillment/orchestrator"
	"temporal-fulfillment/saga"
)

type dialFunc func(config.TemporalConfig, *slog.Logger) (client.Client, error)

// app holds state shared by every command
type app struct {
	configPath string
	actor      string

	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	dial   dialFunc
	now    func() time.Time
}

func newApp(out io.Writer) *app {
	return &app{out: out, dial: orchestrator.Dial, now: time.Now}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "starter",
		Short:        "Trigger fulfillment sagas and manage the audit log",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
			return nil
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("FULFILLMENT_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.actor, "actor", "cli", "actor recorded in the audit log")

	root.AddCommand(
		newPaymentCmd(a),
		newStatusCmd(a),
		newProgressCmd(a),
		newTokenCmd(a),
		newLogsCmd(a),
	)
	return root
}

func newPaymentCmd(a *app) *cobra.Command {
	var paymentID, receiptID string
	cmd := &cobra.Command{
		Use:       "payment <approve|decline> <order-id>",
		Short:     "Approve or decline the pending payment of an order",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(saga.ActionApprove), string(saga.ActionDecline)},
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := saga.PaymentDecision{
				OrderID:   models.ID(args[1]),
				Action:    saga.Action(strings.ToLower(args[0])),
				PaymentID: paymentID,
				ReceiptID: receiptID,
				Actor:     a.actor,
			}
			if err := decision.Validate(); err != nil {
				return err
			}
			return a.trigger(cmd.Context(), func(ctx context.Context, t *orchestrator.Temporal) (saga.Result, error) {
				return t.DecidePayment(ctx, decision)
			})
		},
	}
	cmd.Flags().StringVar(&paymentID, "payment-id", "", "payment reference, generated when empty")
	cmd.Flags().StringVar(&receiptID, "receipt-id", "", "receipt reference")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <order-id> <status>",
		Short: "Change the status of an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			change := saga.StatusChange{
				OrderID: models.ID(args[0]),
				Status:  models.OrderStatus(strings.ToUpper(args[1])),
				Actor:   a.actor,
			}
			if err := change.Validate(); err != nil {
				return err
			}
			return a.trigger(cmd.Context(), func(ctx context.Context, t *orchestrator.Temporal) (saga.Result, error) {
				return t.ChangeStatus(ctx, change)
			})
		},
	}
}

func newProgressCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <order-id>",
		Short: "Query the step outcomes of the latest saga of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.dial(a.cfg.Temporal, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			progress, err := orchestrator.New(c, a.cfg.Temporal.TaskQueue, 0, a.logger).Progress(cmd.Context(), models.ID(args[0]))
			if err != nil {
				return err
			}
			return a.print(progress)
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API bearer token signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := api.IssueToken([]byte(a.cfg.HTTP.JWTSecret), args[0], role, ttl, a.now())
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", api.RoleAdmin, "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newLogsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Work with the audit log",
	}

	var format, output, eventType, entityType, entityID string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export audit records as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "csv" && format != "json" {
				return fmt.Errorf("format must be csv or json, got %q", format)
			}

			store, err := audit.OpenStore(a.cfg.Audit.DBPath)
			if err != nil {
				return fmt.Errorf("failed to open audit store: %w", err)
			}
			defer store.Close()

			records, err := store.Export(cmd.Context(), audit.Filter{
				EventType:  audit.Action(strings.ToUpper(eventType)),
				EntityType: entityType,
				EntityID:   entityID,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output == "." {
				output = audit.ExportFilename(format, a.now())
			}
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			if format == "csv" {
				err = audit.WriteCSV(w, records)
			} else {
				err = audit.WriteJSON(w, records, a.now())
			}
			if err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			if output != "" {
				a.logger.Info("exported audit records", "count", len(records), "file", output)
			}
			return nil
		},
	}
	export.Flags().StringVar(&format, "format", "csv", "csv or json")
	export.Flags().StringVarP(&output, "output", "o", "", `output file; "." picks a timestamped name, empty writes to stdout`)
	export.Flags().StringVar(&eventType, "event-type", "", "only records with this action")
	export.Flags().StringVar(&entityType, "entity-type", "", "only records of this entity type")
	export.Flags().StringVar(&entityID, "entity-id", "", "only records of this entity")

	cmd.AddCommand(export)
	return cmd
}

// trigger runs a saga and prints its result. A failed saga is an error so
// the exit status reflects it.
func (a *app) trigger(ctx context.Context, fn func(context.Context, *orchestrator.Temporal) (saga.Result, error)) error {
	c, err := a.dial(a.cfg.Temporal, a.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := fn(ctx, orchestrator.New(c, a.cfg.Temporal.TaskQueue, a.cfg.HTTP.SagaTimeout, a.logger))
	if err != nil {
		return err
	}
	if err := a.print(result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New(result.Error)
	}
	return nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
