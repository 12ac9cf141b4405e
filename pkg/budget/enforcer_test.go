package budget

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/tracker"
)

func setup(t *testing.T) (*tracker.SQLiteTracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	tr, err := tracker.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, context.Background()
}

func record(t *testing.T, tr *tracker.SQLiteTracker, model string, tokens int) {
	t.Helper()
	err := tr.Record(context.Background(), models.UsageRecord{
		RequestID: model + "-req", Model: model, DiagramType: models.DiagramBPMN, Attempts: 1,
		TotalTokens: tokens, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCheckUnderQuota(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "gpt-4o", 150)

	e := New([]models.QuotaPolicy{{MaxTokens: 1000, Period: models.QuotaDaily}}, tr)

	if err := e.Check(ctx, "gpt-4o"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "gpt-4o", 1100)

	e := New([]models.QuotaPolicy{{MaxTokens: 1000, Period: models.QuotaDaily}}, tr)

	err := e.Check(ctx, "gpt-4o-mini")
	if err == nil {
		t.Fatal("expected quota exceeded error")
	}
	if !errors.Is(err, models.ErrQuotaExceeded) {
		t.Errorf("expected ErrQuotaExceeded, got %v", err)
	}
	if models.KindOf(err) != models.KindRateLimited {
		t.Errorf("kind = %s, want rate_limited", models.KindOf(err))
	}
}

func TestModelPolicyOnlyAppliesToItsModel(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "gpt-4o", 600)
	record(t, tr, "gpt-4o-mini", 100)

	e := New([]models.QuotaPolicy{{Model: "gpt-4o", MaxTokens: 500, Period: models.QuotaMonthly}}, tr)

	if err := e.Check(ctx, "gpt-4o-mini"); err != nil {
		t.Errorf("fast model should not be limited, got %v", err)
	}
	if err := e.Check(ctx, "gpt-4o"); !errors.Is(err, models.ErrQuotaExceeded) {
		t.Errorf("expected smart model to be limited, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "gpt-4o", 150)
	record(t, tr, "gpt-4o-mini", 2000)

	e := New([]models.QuotaPolicy{
		{MaxTokens: 1000},
		{Model: "gpt-4o", MaxTokens: 1000, Period: models.QuotaDaily},
	}, tr)

	statuses, err := e.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Used != 2150 || statuses[0].Remaining != 0 {
		t.Errorf("all models: used %d remaining %d, want 2150 and 0", statuses[0].Used, statuses[0].Remaining)
	}
	if statuses[1].Used != 150 || statuses[1].Remaining != 850 {
		t.Errorf("gpt-4o: used %d remaining %d, want 150 and 850", statuses[1].Used, statuses[1].Remaining)
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 3, 17, 15, 4, 5, 0, time.UTC)
	if got := periodStart(models.QuotaDaily, now); !got.Equal(time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily start = %v", got)
	}
	start := periodStart(models.QuotaMonthly, now)
	if !start.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly start = %v", start)
	}
	if end := periodEnd(models.QuotaMonthly, start); end.Month() != time.April {
		t.Errorf("monthly end = %v", end)
	}
}
