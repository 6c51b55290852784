package selector

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/aimerfeng/PoolGate/internal/allocation"
	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/google/uuid"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	monitoring.Init()
	m.Run()
}

func candidate(priority int, usageCount int64, allocatedAt time.Time) allocation.ActiveAllocation {
	return allocation.ActiveAllocation{
		Token: models.PoolToken{
			ID:         uuid.New(),
			Status:     models.PoolTokenStatusActive,
			UsageCount: usageCount,
		},
		Priority:    priority,
		AllocatedAt: allocatedAt,
	}
}

// TestRankPriorityBeatsUsage tests that a lower priority value wins even
// when its token has been used far more often.
func TestRankPriorityBeatsUsage(t *testing.T) {
	base := time.Now()

	a := candidate(2, 5, base)
	b := candidate(1, 10, base.Add(time.Second))
	c := candidate(1, 3, base.Add(2*time.Second))

	ranked := Rank([]allocation.ActiveAllocation{a, b, c})

	if ranked[0].Token.ID != c.Token.ID {
		t.Fatalf("Expected token with priority 1 and lowest usage first, got priority=%d usage=%d",
			ranked[0].Priority, ranked[0].Token.UsageCount)
	}
	if ranked[1].Token.ID != b.Token.ID {
		t.Fatalf("Expected second priority-1 token next, got priority=%d", ranked[1].Priority)
	}
	if ranked[2].Token.ID != a.Token.ID {
		t.Fatalf("Expected priority-2 token last, got priority=%d", ranked[2].Priority)
	}
}

// TestRankUsageTieBreak tests that within equal priority the less-used
// token wins, and that equal usage falls back to allocation age.
func TestRankUsageTieBreak(t *testing.T) {
	base := time.Now()

	older := candidate(1, 7, base)
	newer := candidate(1, 7, base.Add(time.Minute))
	busy := candidate(1, 20, base.Add(-time.Hour))

	ranked := Rank([]allocation.ActiveAllocation{busy, newer, older})

	if ranked[0].Token.ID != older.Token.ID {
		t.Fatalf("Expected oldest allocation among usage ties first, got allocated_at=%v", ranked[0].AllocatedAt)
	}
	if ranked[1].Token.ID != newer.Token.ID {
		t.Fatalf("Expected newer usage-tied allocation second")
	}
	if ranked[2].Token.ID != busy.Token.ID {
		t.Fatalf("Expected busiest token last, got usage=%d", ranked[2].Token.UsageCount)
	}
}

// TestRankOrderingInvariant tests that for any candidate set, the ranked
// order is monotone in (priority, usage count, allocated at) and is a
// permutation of the input.
func TestRankOrderingInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "n")
		base := time.Unix(1700000000, 0)

		candidates := make([]allocation.ActiveAllocation, n)
		for i := range candidates {
			candidates[i] = candidate(
				rapid.IntRange(0, 5).Draw(rt, "priority"),
				int64(rapid.IntRange(0, 100).Draw(rt, "usage")),
				base.Add(time.Duration(rapid.IntRange(0, 86400).Draw(rt, "ageSec"))*time.Second),
			)
		}

		ranked := Rank(candidates)

		if len(ranked) != len(candidates) {
			t.Fatalf("Rank changed candidate count: got %d, want %d", len(ranked), len(candidates))
		}

		for i := 1; i < len(ranked); i++ {
			prev, cur := ranked[i-1], ranked[i]
			if prev.Priority > cur.Priority {
				t.Fatalf("PROPERTY VIOLATION: priority order broken at %d: %d > %d", i, prev.Priority, cur.Priority)
			}
			if prev.Priority == cur.Priority && prev.Token.UsageCount > cur.Token.UsageCount {
				t.Fatalf("PROPERTY VIOLATION: usage order broken at %d: %d > %d", i, prev.Token.UsageCount, cur.Token.UsageCount)
			}
			if prev.Priority == cur.Priority && prev.Token.UsageCount == cur.Token.UsageCount &&
				prev.AllocatedAt.After(cur.AllocatedAt) {
				t.Fatalf("PROPERTY VIOLATION: allocation age order broken at %d", i)
			}
		}

		// Permutation check: same token ids on both sides.
		inIDs := make([]string, n)
		outIDs := make([]string, n)
		for i := range candidates {
			inIDs[i] = candidates[i].Token.ID.String()
			outIDs[i] = ranked[i].Token.ID.String()
		}
		sort.Strings(inIDs)
		sort.Strings(outIDs)
		for i := range inIDs {
			if inIDs[i] != outIDs[i] {
				t.Fatal("PROPERTY VIOLATION: ranked set is not a permutation of the input")
			}
		}
	})
}

// TestRankDoesNotMutateInput tests that ranking leaves the caller's slice alone.
func TestRankDoesNotMutateInput(t *testing.T) {
	base := time.Now()
	candidates := []allocation.ActiveAllocation{
		candidate(3, 1, base),
		candidate(1, 9, base),
		candidate(2, 4, base),
	}
	snapshot := make([]allocation.ActiveAllocation, len(candidates))
	copy(snapshot, candidates)

	Rank(candidates)

	for i := range candidates {
		if candidates[i].Token.ID != snapshot[i].Token.ID {
			t.Fatalf("Rank mutated its input at index %d", i)
		}
	}
}

type stubLedger struct {
	candidates []allocation.ActiveAllocation
	err        error
}

func (l *stubLedger) ActiveAllocationsFor(_ context.Context, _ uuid.UUID) ([]allocation.ActiveAllocation, error) {
	return l.candidates, l.err
}

// TestSelectOptimalEmpty tests that a user with no allocations gets
// ErrNoCredential rather than a zero-value token.
func TestSelectOptimalEmpty(t *testing.T) {
	service := NewService(&stubLedger{})

	_, err := service.SelectOptimal(context.Background(), uuid.New())
	if err != ErrNoCredential {
		t.Fatalf("Expected ErrNoCredential, got: %v", err)
	}
}

// TestSelectOptimalPicksRankedHead tests that selection returns the
// best-ranked candidate's token.
func TestSelectOptimalPicksRankedHead(t *testing.T) {
	base := time.Now()
	best := candidate(0, 0, base)
	worse := candidate(1, 50, base)

	service := NewService(&stubLedger{candidates: []allocation.ActiveAllocation{worse, best}})

	token, err := service.SelectOptimal(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("SelectOptimal failed: %v", err)
	}
	if token.ID != best.Token.ID {
		t.Fatalf("Expected best-ranked token %s, got %s", best.Token.ID, token.ID)
	}
}
