package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-provisioning/apps/cli/cmd/clicfg"
	provisioningrepo "github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/repo"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
	"github.com/zenGate-Global/palmyra-provisioning/platform/go/persistence"
)

// Command inspects the provisioning queue directly in the platform database.
func Command() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the provisioning queue",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "platform database URL (defaults to DATABASE_URL)")

	cmd.AddCommand(listCommand(&databaseURL))
	cmd.AddCommand(statsCommand(&databaseURL))
	return cmd
}

func withRepo(ctx context.Context, databaseURL string, fn func(repo *provisioningrepo.PostgresRepository) error) error {
	cfg, err := clicfg.Load(databaseURL)
	if err != nil {
		return err
	}

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL, ApplicationName: "palmyra-provisioning-cli", MaxConns: 2})
	if err != nil {
		return fmt.Errorf("init pool: %w", err)
	}
	defer persistence.ClosePool(pool)

	return fn(provisioningrepo.NewPostgresRepository(pool))
}

func listCommand(databaseURL *string) *cobra.Command {
	var (
		status string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in processing order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := service.QueueFilter{Limit: limit}
			if status != "" {
				parsed, err := service.ParseTaskStatus(status)
				if err != nil {
					return fmt.Errorf("--status: %w", err)
				}
				filter.Status = &parsed
			}

			return withRepo(cmd.Context(), *databaseURL, func(repo *provisioningrepo.PostgresRepository) error {
				items, err := repo.ListQueue(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(items)
				}
				renderQueue(cmd.OutOrStdout(), items, time.Now().UTC())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by task status")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func statsCommand(databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters for today (UTC)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), *databaseURL, func(repo *provisioningrepo.PostgresRepository) error {
				now := time.Now().UTC()
				dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
				stats, err := repo.Stats(cmd.Context(), dayStart, now)
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func renderQueue(w io.Writer, items []service.QueueItem, now time.Time) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"TASK", "CUSTOMER", "PLAN", "STATUS", "ADMIN", "WAITING", "OVERDUE"})
	for _, item := range items {
		overdue := ""
		if item.Task.Overdue(now) {
			overdue = "yes"
		}
		tw.Append([]string{
			item.Task.ID.String(),
			item.Customer.Name,
			string(item.Customer.Plan),
			string(item.Task.Status),
			deref(item.Task.AssignedAdminID),
			now.Sub(item.Task.CreatedAt).Truncate(time.Minute).String(),
			overdue,
		})
	}
	tw.Render()
}

func renderStats(w io.Writer, s service.Stats) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"COUNTER", "VALUE"})
	rows := [][]string{
		{"pending", fmt.Sprint(s.Pending)},
		{"in progress", fmt.Sprint(s.InProgress)},
		{"completed today", fmt.Sprint(s.CompletedToday)},
		{"failed today", fmt.Sprint(s.FailedToday)},
		{"overdue", fmt.Sprint(s.Overdue)},
	}
	tw.AppendBulk(rows)
	tw.Render()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
