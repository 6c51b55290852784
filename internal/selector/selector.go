package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aimerfeng/PoolGate/internal/allocation"
	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/google/uuid"
)

// ErrNoCredential is returned when a user has no selectable pool token
var ErrNoCredential = errors.New("no available pool token")

// Ledger is the slice of the allocation ledger the selector reads
type Ledger interface {
	ActiveAllocationsFor(ctx context.Context, userID uuid.UUID) ([]allocation.ActiveAllocation, error)
}

// Service picks the pool token that should serve a user's next request
type Service struct {
	ledger Ledger
}

// NewService creates a new selector
func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// Rank orders candidates by (priority asc, usage_count asc, allocated_at
// asc) and returns a new slice. The input is not modified.
//
// The ordering is a static greedy choice over counters captured at read
// time: two concurrent selections for the same user may both pick the
// same token. The goal is even long-run usage, not per-request exclusion.
func Rank(candidates []allocation.ActiveAllocation) []allocation.ActiveAllocation {
	ranked := make([]allocation.ActiveAllocation, len(candidates))
	copy(ranked, candidates)

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority < ranked[j].Priority
		}
		if ranked[i].Token.UsageCount != ranked[j].Token.UsageCount {
			return ranked[i].Token.UsageCount < ranked[j].Token.UsageCount
		}
		return ranked[i].AllocatedAt.Before(ranked[j].AllocatedAt)
	})

	return ranked
}

// SelectOptimal returns the best pool token currently allocated to the
// user, or ErrNoCredential when none is selectable.
func (s *Service) SelectOptimal(ctx context.Context, userID uuid.UUID) (*models.PoolToken, error) {
	candidates, err := s.ledger.ActiveAllocationsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	if len(candidates) == 0 {
		monitoring.Get().NoCredentialsTotal.Inc()
		return nil, ErrNoCredential
	}

	best := Rank(candidates)[0]
	monitoring.Get().SelectionsTotal.WithLabelValues(best.Token.ID.String()).Inc()
	return &best.Token, nil
}
