package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-booking/internal/auth"
	"github.com/hackgods/practitioner-booking/internal/booking"
	"github.com/hackgods/practitioner-booking/internal/config"
	"github.com/hackgods/practitioner-booking/internal/db"
	"github.com/hackgods/practitioner-booking/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bookingctl",
		Short:        "Operator tooling for the practitioner booking service",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(slotsCmd())
	root.AddCommand(upcomingCmd())
	root.AddCommand(tokenCmd())

	return root
}

// env bundles what most subcommands need.
type env struct {
	cfg  config.Config
	log  *zap.Logger
	pool *pgxpool.Pool
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	zl, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, MinConns: 1})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: zl, pool: pool}, nil
}

func (e *env) close() {
	e.pool.Close()
	_ = e.log.Sync()
}

// service builds a read-side booking service. Slot listing never takes
// the Redis lock, so no locker is wired.
func (e *env) service() *booking.Service {
	return booking.NewService(booking.NewPgRepository(e.pool), nil, auth.RoleAuthorizer{}, e.cfg.Booking, e.log)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			count, err := db.NewMigrator(e.pool, db.Migrations()).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			statuses, err := db.NewMigrator(e.pool, db.Migrations()).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	var random int
	var fakerSeed uint64

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo practitioners and their weekly windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if fakerSeed == 0 {
				fakerSeed = uint64(time.Now().UnixNano())
			}
			roster := buildRoster(fakerSeed, random)

			practitioners, windows, err := seedRoster(cmd.Context(), e.pool, roster)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			e.log.Info("seed complete",
				zap.Int("practitioners", practitioners),
				zap.Int("windows", windows))
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d practitioner(s) and %d window(s).\n", practitioners, windows)
			return nil
		},
	}
	cmd.Flags().IntVar(&random, "random", 0, "Additional randomly generated practitioners")
	cmd.Flags().Uint64Var(&fakerSeed, "faker-seed", 0, "Seed for generated data (0 picks one)")
	return cmd
}

func practitionerFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("practitioner")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--practitioner must be a UUID: %w", err)
	}
	return id, nil
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List open slots for a practitioner on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := practitionerFlag(cmd)
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetString("date")
			date, err := booking.ParseDate(raw)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			slots, err := e.service().ListAvailableSlots(cmd.Context(), id, date)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d open slot(s) on %s\n", len(slots), date)
			for _, s := range slots {
				fmt.Fprintf(out, "  %s  %s\n", s.Time, s.Label)
			}
			return nil
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner UUID")
	cmd.Flags().String("date", "", "Date as YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("practitioner")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func upcomingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Count open slots per date for a practitioner",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := practitionerFlag(cmd)
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetInt("days")

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			dates, err := e.service().ListUpcomingWindow(cmd.Context(), id, days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range dates {
				fmt.Fprintf(out, "%s  %d\n", d.Date, d.SlotCount)
			}
			return nil
		},
	}
	cmd.Flags().String("practitioner", "", "Practitioner UUID")
	cmd.Flags().Int("days", 30, "Days ahead to scan")
	_ = cmd.MarkFlagRequired("practitioner")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			raw, _ := cmd.Flags().GetString("subject")
			role, _ := cmd.Flags().GetString("role")
			subject := uuid.New()
			if raw != "" {
				if subject, err = uuid.Parse(raw); err != nil {
					return fmt.Errorf("--subject must be a UUID: %w", err)
				}
			}

			token, expiresAt, err := auth.NewJWTManager(cfg.JWT).Issue(booking.Actor{ID: subject, Role: role})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "subject=%s role=%s expires=%s\n", subject, role, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Actor UUID (random when empty)")
	cmd.Flags().String("role", auth.RolePatient, "patient or operator")
	return cmd
}
