package handlers

import (
	"context"
	"net/http"
	"time"

	"spendbook/internal/models"

	"golang.org/x/sync/errgroup"
)

const largestExpensesLimit = 5

// StatsCategoryItem represents a category with its spending statistics.
type StatsCategoryItem struct {
	Category      string
	Total         float64
	Count         int
	Percentage    float64
	CategoryStyle CategoryStyle
}

// DashboardViewModel is the data passed to the dashboard template.
type DashboardViewModel struct {
	Page
	Total         float64
	LastSevenDays float64
	WeekStart     time.Time
	WeekEnd       time.Time
	Largest       []ExpenseItem
	Categories    []StatsCategoryItem
}

// Dashboard renders spending aggregates. Nothing is cached.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	from, to := lastSevenDays(now)

	summary, err := h.summarize(r.Context(), ownerID(r), from, to)
	if err != nil {
		h.serverError(w, r, "dashboard summary failed", err)
		return
	}

	categoryItems := make([]StatsCategoryItem, 0, len(summary.ByCategory))
	for _, ct := range summary.ByCategory {
		percentage := 0.0
		if summary.Total > 0 {
			percentage = (ct.Total / summary.Total) * 100
		}
		categoryItems = append(categoryItems, StatsCategoryItem{
			Category:      ct.Category,
			Total:         ct.Total,
			Count:         ct.Count,
			Percentage:    percentage,
			CategoryStyle: getCategoryStyle(ct.Category),
		})
	}

	h.render(w, r, "dashboard.html", DashboardViewModel{
		Page:          h.page(r, "Dashboard", "dashboard"),
		Total:         summary.Total,
		LastSevenDays: summary.LastSevenDays,
		WeekStart:     from,
		WeekEnd:       to,
		Largest:       toItems(summary.Largest),
		Categories:    categoryItems,
	})
}

// lastSevenDays returns the inclusive calendar range of the seven days
// ending today.
func lastSevenDays(now time.Time) (from, to time.Time) {
	to = models.NormalizeDate(now)
	return to.AddDate(0, 0, -6), to
}

func (h *Handlers) summarize(ctx context.Context, owner string, from, to time.Time) (models.DashboardSummary, error) {
	var s models.DashboardSummary
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		s.Total, err = h.store.TotalAmount(ctx, owner)
		return err
	})
	g.Go(func() error {
		var err error
		s.LastSevenDays, err = h.store.TotalAmountBetween(ctx, owner, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		s.Largest, err = h.store.LargestExpenses(ctx, owner, largestExpensesLimit)
		return err
	})
	g.Go(func() error {
		var err error
		s.ByCategory, err = h.store.CategoryTotals(ctx, owner)
		return err
	})

	if err := g.Wait(); err != nil {
		return models.DashboardSummary{}, err
	}
	return s, nil
}
