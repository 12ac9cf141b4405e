// Package budget enforces token quotas on generation.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/pario-ai/flowsmith/pkg/models"
)

// TokenCounter reports tokens spent since a point in time. An empty model
// sums across all models.
type TokenCounter interface {
	TotalTokens(ctx context.Context, model string, since time.Time) (int64, error)
}

// Enforcer checks token usage against quota policies.
type Enforcer struct {
	policies []models.QuotaPolicy
	usage    TokenCounter
	now      func() time.Time
}

// New creates an Enforcer with the given policies and usage source.
func New(policies []models.QuotaPolicy, usage TokenCounter) *Enforcer {
	return &Enforcer{policies: policies, usage: usage, now: time.Now}
}

// Check returns a rate_limited error wrapping models.ErrQuotaExceeded if
// generating with model would run over any applicable policy.
func (e *Enforcer) Check(ctx context.Context, model string) error {
	for _, p := range e.policies {
		if p.Model != "" && p.Model != model {
			continue
		}
		start := periodStart(p.Period, e.now())
		used, err := e.usage.TotalTokens(ctx, p.Model, start)
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}
		if used >= p.MaxTokens {
			scope := "all models"
			if p.Model != "" {
				scope = p.Model
			}
			msg := fmt.Sprintf("the %s token quota for %s is used up until %s",
				period(p.Period), scope, periodEnd(p.Period, start).Format(time.RFC3339))
			return models.NewError(models.KindRateLimited, msg, models.ErrQuotaExceeded)
		}
	}
	return nil
}

// Status returns current usage for every policy.
func (e *Enforcer) Status(ctx context.Context) ([]models.QuotaStatus, error) {
	statuses := make([]models.QuotaStatus, 0, len(e.policies))
	for _, p := range e.policies {
		used, err := e.usage.TotalTokens(ctx, p.Model, periodStart(p.Period, e.now()))
		if err != nil {
			return nil, fmt.Errorf("quota status: %w", err)
		}
		statuses = append(statuses, models.QuotaStatus{
			Policy:    p,
			Used:      used,
			Remaining: max(p.MaxTokens-used, 0),
		})
	}
	return statuses, nil
}

func period(p models.QuotaPeriod) models.QuotaPeriod {
	if p == "" {
		return models.QuotaDaily
	}
	return p
}

func periodStart(p models.QuotaPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case models.QuotaMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func periodEnd(p models.QuotaPeriod, start time.Time) time.Time {
	if p == models.QuotaMonthly {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}
