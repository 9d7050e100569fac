// Package insight turns changes in the business data into business events and
// asks the model for proactive advice about the significant ones.
package insight

import (
	"BizAdvisor/backend/go/internal/config"
	"BizAdvisor/backend/go/internal/models"
	"BizAdvisor/backend/go/pkg/logger"
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Event types emitted by the Detector.
const (
	EventExpenseChange = "expense_change"
	EventRevenueChange = "revenue_change"
)

const window = 30 * 24 * time.Hour

// Policy holds the product thresholds for insight generation.
type Policy struct {
	MinSignificance  models.Significance
	ExpenseChangePct float64
	RevenueChangePct float64
}

// PolicyFromConfig reads the policy from the insight config section.
func PolicyFromConfig(cfg config.InsightConfig) Policy {
	p := Policy{
		MinSignificance:  models.Significance(strings.ToLower(cfg.MinSignificance)),
		ExpenseChangePct: cfg.ExpenseChangePct,
		RevenueChangePct: cfg.RevenueChangePct,
	}
	if p.MinSignificance == "" {
		p.MinSignificance = models.SignificanceLow
	}
	if p.ExpenseChangePct <= 0 {
		p.ExpenseChangePct = 10
	}
	if p.RevenueChangePct <= 0 {
		p.RevenueChangePct = 20
	}
	return p
}

// DetectorData is what the Detector reads and writes.
type DetectorData interface {
	ExpensesBetween(ctx context.Context, userID uint, from, to time.Time) ([]models.Expense, error)
	RevenueBetween(ctx context.Context, userID uint, from, to time.Time) (float64, error)
	CreateBusinessEvent(ctx context.Context, ev *models.BusinessEvent) error
}

// Detector compares consecutive 30-day windows.
type Detector struct {
	data   DetectorData
	policy Policy
	logger *logger.Logger
}

func NewDetector(data DetectorData, policy Policy, log *logger.Logger) *Detector {
	return &Detector{data: data, policy: policy, logger: log}
}

// MonthOverMonth records a business event for each of expenses and revenue
// whose change between the previous and the last 30 days reaches its
// threshold. A window with no previous amount has no baseline and is skipped.
func (d *Detector) MonthOverMonth(ctx context.Context, userID uint, now time.Time) ([]*models.BusinessEvent, error) {
	curFrom, prevFrom := now.Add(-window), now.Add(-2*window)

	curExp, err := d.expenseTotal(ctx, userID, curFrom, now)
	if err != nil {
		return nil, err
	}
	prevExp, err := d.expenseTotal(ctx, userID, prevFrom, curFrom)
	if err != nil {
		return nil, err
	}
	curRev, err := d.data.RevenueBetween(ctx, userID, curFrom, now)
	if err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}
	prevRev, err := d.data.RevenueBetween(ctx, userID, prevFrom, curFrom)
	if err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}

	var events []*models.BusinessEvent
	for _, c := range []struct {
		kind, label     string
		current, before float64
		threshold       float64
	}{
		{EventExpenseChange, "Expenses", curExp, prevExp, d.policy.ExpenseChangePct},
		{EventRevenueChange, "Revenue", curRev, prevRev, d.policy.RevenueChangePct},
	} {
		if c.before == 0 {
			continue
		}
		pct := (c.current - c.before) / c.before * 100
		if math.Abs(pct) < c.threshold {
			continue
		}
		ev := &models.BusinessEvent{
			UserID:       userID,
			EventType:    c.kind,
			Title:        fmt.Sprintf("%s %s %.1f%% month over month", c.label, direction(pct), math.Abs(pct)),
			Description:  fmt.Sprintf("%s over the last 30 days were %.2f, compared with %.2f in the previous 30 days.", c.label, c.current, c.before),
			Significance: significance(pct, c.threshold),
			OccurredAt:   now,
		}
		if err := d.data.CreateBusinessEvent(ctx, ev); err != nil {
			return events, fmt.Errorf("save %s event: %w", c.kind, err)
		}
		d.logger.WithPayload(map[string]interface{}{
			"user_id": userID, "event_id": ev.ID, "event_type": c.kind, "change_pct": pct,
		}).Info("business event detected")
		events = append(events, ev)
	}
	return events, nil
}

func (d *Detector) expenseTotal(ctx context.Context, userID uint, from, to time.Time) (float64, error) {
	expenses, err := d.data.ExpensesBetween(ctx, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("expenses: %w", err)
	}
	var total float64
	for _, e := range expenses {
		total += e.Amount
	}
	return total, nil
}

func significance(pct, threshold float64) models.Significance {
	if math.Abs(pct) >= 2*threshold {
		return models.SignificanceHigh
	}
	return models.SignificanceMedium
}

func direction(pct float64) string {
	if pct < 0 {
		return "down"
	}
	return "up"
}
