package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pkordes/fieldops/internal/auth"
	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/events"
	"github.com/pkordes/fieldops/internal/repo"
	"github.com/pkordes/fieldops/internal/service"
)

func tripsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "trips", Short: "Trip maintenance"}

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Force-complete trips left IN_PROGRESS past the stale threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load("DATABASE_URL")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := service.NewTripService(repo.NewTripRepo(pool), repo.NewCheckpointRepo(pool), events.NewLogOnly(logger), nil, service.TripConfig{
				StaleThreshold: cfg.StaleTripThreshold,
				MileageRate:    cfg.MileageRate,
			})
			trips, err := svc.RecoverStaleTrips(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d trip(s) older than %s\n", len(trips), cfg.StaleTripThreshold)
			for _, t := range trips {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s owner=%s started=%s\n", t.ID, t.OwnerID, t.StartTime.Format(time.RFC3339))
			}
			return nil
		},
	}
	recoverCmd.Flags().Duration("threshold", 0, "override STALE_TRIP_THRESHOLD for this sweep")
	_ = v.BindPFlag("stale_trip_threshold", recoverCmd.Flags().Lookup("threshold"))

	cmd.AddCommand(recoverCmd)
	return cmd
}

func couriersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "couriers", Short: "Courier onboarding queues"}

	var asJSON bool
	pending := &cobra.Command{
		Use:   "pending",
		Short: "List submitted applications and documents awaiting review",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load("DATABASE_URL")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := service.NewCourierService(repo.NewTxManager(pool), repo.NewCourierRepo(pool), repo.NewCourierDocumentRepo(pool), nil, events.NewLogOnly(logger))
			profiles, err := svc.ListPendingCouriers(ctx)
			if err != nil {
				return err
			}
			docs, err := svc.ListPendingDocuments(ctx)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Couriers  []domain.CourierProfile  `json:"couriers"`
					Documents []domain.CourierDocument `json:"documents"`
				}{profiles, docs})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tVEHICLE\tSUBMITTED")
			for _, p := range profiles {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.UserID, p.VehicleType, p.UpdatedAt.Format(time.RFC3339))
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "DOCUMENT\tPROFILE\tTYPE\tEXPIRES")
			for _, d := range docs {
				expires := "-"
				if d.ExpiresAt != nil {
					expires = d.ExpiresAt.Format("2006-01-02")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.ProfileID, d.Type, expires)
			}
			return tw.Flush()
		},
	}
	pending.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	cmd.AddCommand(pending)
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		role string
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := load("JWT_SECRET")
			if err != nil {
				return err
			}
			actor := domain.Actor{UserID: uuid.New(), Role: domain.Role(role)}
			if !actor.Role.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if user != "" {
				if actor.UserID, err = uuid.Parse(user); err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				if actor.UserID == uuid.Nil {
					return errors.New("invalid --user: the nil uuid is reserved")
				}
			}
			token, err := auth.NewManager(cfg.JWTSecret).Issue(actor, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleAdmin), "ADMIN, DISPATCHER, COMMERCIAL, DELIVERY or ACCOUNTANT")
	cmd.Flags().StringVar(&user, "user", "", "user id to embed (random when empty)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
