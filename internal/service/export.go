package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pkordes/fieldops/internal/domain"
	"github.com/pkordes/fieldops/internal/repo"
)

const (
	exportPageSize    = domain.MaxPageLimit
	exportConcurrency = 8
)

// ExportService assembles the flat mileage expense export.
type ExportService struct {
	trips  repo.TripRepo
	visits repo.VisitRepo
}

// NewExportService constructs an ExportService backed by the provided repos.
func NewExportService(trips repo.TripRepo, visits repo.VisitRepo) *ExportService {
	return &ExportService{trips: trips, visits: visits}
}

// Export returns one ExpenseRow per COMPLETED trip matching filter, newest first.
func (s *ExportService) Export(ctx context.Context, filter domain.ExpenseFilter) ([]domain.ExpenseRow, error) {
	completed := domain.TripCompleted
	tf := domain.TripFilter{OwnerID: filter.OwnerID, Status: &completed}

	var trips []domain.Trip
	for page := 1; ; page++ {
		batch, err := s.trips.List(ctx, tf, domain.PaginationParams{Page: page, Limit: exportPageSize})
		if err != nil {
			return nil, fmt.Errorf("service.ExportService.Export: %w", err)
		}
		for _, t := range batch {
			if filter.Includes(t.StartTime) {
				trips = append(trips, t)
			}
		}
		if len(batch) < exportPageSize {
			break
		}
	}

	rows := make([]domain.ExpenseRow, len(trips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportConcurrency)
	for i, t := range trips {
		g.Go(func() error {
			visits, err := s.visits.ListByTrip(gctx, t.ID)
			if err != nil {
				return err
			}
			rows[i] = expenseRow(t, len(visits))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.ExportService.Export: %w", err)
	}
	return rows, nil
}

func expenseRow(t domain.Trip, visits int) domain.ExpenseRow {
	return domain.ExpenseRow{
		TripID:           t.ID,
		OwnerID:          t.OwnerID,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
		Purpose:          t.Purpose,
		VehicleLabel:     t.VehicleLabel,
		CompletionReason: t.CompletionReason,
		DistanceKm:       t.DistanceKm,
		DurationMinutes:  t.DurationMinutes,
		MileageRate:      t.MileageRate,
		TotalCost:        t.TotalCost,
		VisitCount:       visits,
		ValidatedAt:      t.ValidatedAt,
		ReimbursedAt:     t.ReimbursedAt,
	}
}
