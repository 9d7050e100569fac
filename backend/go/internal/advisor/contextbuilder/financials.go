package contextbuilder

import (
	"BizAdvisor/backend/go/internal/models"
	"context"
	"fmt"
	"sort"
	"time"
)

// FinancialWindow is the look-back period for expenses and revenue.
const FinancialWindow = 30 * 24 * time.Hour

const upcomingEndDates = 3

// BusinessData reads the structured business records of one owner.
type BusinessData interface {
	LatestCashPosition(ctx context.Context, userID uint) (*models.CashPosition, error)
	ActiveContracts(ctx context.Context, userID uint) ([]models.Contract, error)
	ExpensesBetween(ctx context.Context, userID uint, from, to time.Time) ([]models.Expense, error)
	RevenueBetween(ctx context.Context, userID uint, from, to time.Time) (float64, error)
	ActiveProductCount(ctx context.Context, userID uint) (int64, error)
}

// CategoryTotal is the expense total of one category.
type CategoryTotal struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// ContractEnd is an upcoming contract end date.
type ContractEnd struct {
	Title   string `json:"title"`
	EndDate string `json:"end_date"`
}

// Financials summarises the financial position at a point in time.
type Financials struct {
	CashBalance         *float64        `json:"cash_balance,omitempty"`
	CashRecordedOn      string          `json:"cash_recorded_on,omitempty"`
	ActiveContracts     int             `json:"active_contracts"`
	ActiveContractValue float64         `json:"active_contract_value"`
	UpcomingEndDates    []ContractEnd   `json:"upcoming_end_dates,omitempty"`
	ExpensesTotal       float64         `json:"expenses_total"`
	ExpensesByCategory  []CategoryTotal `json:"expenses_by_category,omitempty"`
	Revenue             float64         `json:"revenue"`
	ActiveProducts      int64           `json:"active_products"`
}

func (f *Financials) empty() bool {
	return f.CashBalance == nil && f.ActiveContracts == 0 && len(f.ExpensesByCategory) == 0 &&
		f.Revenue == 0 && f.ActiveProducts == 0
}

// LoadFinancials reads the financial position of userID as of now. It returns
// nil, nil when the user has no financial data at all.
func LoadFinancials(ctx context.Context, data BusinessData, userID uint, now time.Time) (*Financials, error) {
	f := &Financials{}
	from := now.Add(-FinancialWindow)

	cash, err := data.LatestCashPosition(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cash position: %w", err)
	}
	if cash != nil {
		balance := cash.Balance
		f.CashBalance = &balance
		f.CashRecordedOn = cash.RecordedOn.Format(dateLayout)
	}

	contracts, err := data.ActiveContracts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active contracts: %w", err)
	}
	f.ActiveContracts = len(contracts)
	today := startOfDay(now)
	for _, c := range contracts {
		f.ActiveContractValue += c.Value
		if c.EndDate != nil && !c.EndDate.Before(today) && len(f.UpcomingEndDates) < upcomingEndDates {
			f.UpcomingEndDates = append(f.UpcomingEndDates, ContractEnd{Title: c.Title, EndDate: c.EndDate.Format(dateLayout)})
		}
	}

	expenses, err := data.ExpensesBetween(ctx, userID, from, now)
	if err != nil {
		return nil, fmt.Errorf("expenses: %w", err)
	}
	byCategory := map[string]float64{}
	for _, e := range expenses {
		f.ExpensesTotal += e.Amount
		byCategory[e.Category] += e.Amount
	}
	for category, amount := range byCategory {
		f.ExpensesByCategory = append(f.ExpensesByCategory, CategoryTotal{Category: category, Amount: amount})
	}
	sort.Slice(f.ExpensesByCategory, func(i, j int) bool {
		a, b := f.ExpensesByCategory[i], f.ExpensesByCategory[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.Category < b.Category
	})

	if f.Revenue, err = data.RevenueBetween(ctx, userID, from, now); err != nil {
		return nil, fmt.Errorf("revenue: %w", err)
	}
	if f.ActiveProducts, err = data.ActiveProductCount(ctx, userID); err != nil {
		return nil, fmt.Errorf("active products: %w", err)
	}

	if f.empty() {
		return nil, nil
	}
	return f, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
