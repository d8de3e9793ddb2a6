package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"spendbook/internal/events"
	"spendbook/internal/models"
	"spendbook/internal/storage"

	"github.com/shopspring/decimal"
)

// ExpenseGroup groups expenses by date.
type ExpenseGroup struct {
	Title string
	Date  string
	Total float64
	Items []ExpenseItem
}

// ListViewModel is the data passed to the list view template.
type ListViewModel struct {
	Page
	Total  float64
	Count  int
	Groups []ExpenseGroup
}

// ExpenseForm holds the raw form values so an invalid submission can be
// shown again as typed.
type ExpenseForm struct {
	Date        string
	Category    string
	Amount      string
	Description string
}

// FormViewModel is the data passed to the create/edit form template.
type FormViewModel struct {
	Page
	ID         string
	IsEdit     bool
	Form       ExpenseForm
	Error      string
	Categories []CategoryDef
}

// DeleteViewModel is the data passed to the delete confirmation template.
type DeleteViewModel struct {
	Page
	Expense ExpenseItem
}

// ListExpenses renders the list of expenses.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.store.ListExpenses(r.Context(), ownerID(r))
	if err != nil {
		h.serverError(w, r, "list expenses failed", err)
		return
	}

	// Expenses arrive newest first, so consecutive runs share a date.
	var groups []ExpenseGroup
	now := h.now()
	for _, item := range toItems(expenses) {
		dateStr := item.Date.Format(models.DateLayout)
		if len(groups) == 0 || groups[len(groups)-1].Date != dateStr {
			groups = append(groups, ExpenseGroup{Date: dateStr, Title: formatGroupTitle(item.Date, now)})
		}
		group := &groups[len(groups)-1]
		group.Items = append(group.Items, item)
	}
	for i := range groups {
		groups[i].Total = sumItems(groups[i].Items)
	}

	h.render(w, r, "list.html", ListViewModel{
		Page:   h.page(r, "Expenses", "list"),
		Total:  sumAmounts(expenses),
		Count:  len(expenses),
		Groups: groups,
	})
}

// CreateExpenseForm renders the form to create a new expense.
func (h *Handlers) CreateExpenseForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "form.html", FormViewModel{
		Page:       h.page(r, "Add expense", "add"),
		Form:       ExpenseForm{Date: h.now().Format(models.DateLayout)},
		Categories: categories,
	})
}

// CreateExpense handles the creation of a new expense.
func (h *Handlers) CreateExpense(w http.ResponseWriter, r *http.Request) {
	form, expense, err := parseExpenseForm(r)
	if err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "form.html", FormViewModel{
			Page:       h.page(r, "Add expense", "add"),
			Form:       form,
			Error:      err.Error(),
			Categories: categories,
		})
		return
	}

	expense.UserID = ownerID(r)
	if err := h.store.CreateExpense(r.Context(), &expense); err != nil {
		h.serverError(w, r, "create expense failed", err)
		return
	}
	h.publish(r, events.ExpenseCreated, &expense)
	h.redirect(w, r, "/")
}

// EditExpenseForm renders the form to edit an existing expense.
func (h *Handlers) EditExpenseForm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	expense, err := h.store.GetExpense(r.Context(), id, ownerID(r))
	if errors.Is(err, storage.ErrNotFound) {
		h.notFound(w)
		return
	}
	if err != nil {
		h.serverError(w, r, "get expense failed", err)
		return
	}

	h.render(w, r, "form.html", FormViewModel{
		Page:   h.page(r, "Edit expense", ""),
		ID:     expense.ID,
		IsEdit: true,
		Form: ExpenseForm{
			Date:        expense.Date.Format(models.DateLayout),
			Category:    expense.Category,
			Amount:      formatMoney(expense.Amount),
			Description: expense.Description,
		},
		Categories: categories,
	})
}

// UpdateExpense handles the update of an existing expense.
func (h *Handlers) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	form, expense, err := parseExpenseForm(r)
	if err != nil {
		h.renderStatus(w, r, http.StatusBadRequest, "form.html", FormViewModel{
			Page:       h.page(r, "Edit expense", ""),
			ID:         id,
			IsEdit:     true,
			Form:       form,
			Error:      err.Error(),
			Categories: categories,
		})
		return
	}

	expense.ID = id
	expense.UserID = ownerID(r)
	err = h.store.UpdateExpense(r.Context(), &expense)
	if errors.Is(err, storage.ErrNotFound) {
		h.notFound(w)
		return
	}
	if err != nil {
		h.serverError(w, r, "update expense failed", err)
		return
	}
	h.publish(r, events.ExpenseUpdated, &expense)
	h.redirect(w, r, "/")
}

// DeleteExpenseForm asks for confirmation before deleting an expense.
func (h *Handlers) DeleteExpenseForm(w http.ResponseWriter, r *http.Request) {
	expense, err := h.store.GetExpense(r.Context(), r.PathValue("id"), ownerID(r))
	if errors.Is(err, storage.ErrNotFound) {
		h.notFound(w)
		return
	}
	if err != nil {
		h.serverError(w, r, "get expense failed", err)
		return
	}
	h.render(w, r, "delete.html", DeleteViewModel{
		Page:    h.page(r, "Delete expense", ""),
		Expense: toItems([]models.Expense{*expense})[0],
	})
}

// DeleteExpense removes an expense. A missing expense is not an error.
func (h *Handlers) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	expense, err := h.store.GetExpense(r.Context(), r.PathValue("id"), owner)
	if errors.Is(err, storage.ErrNotFound) {
		h.redirect(w, r, "/")
		return
	}
	if err != nil {
		h.serverError(w, r, "get expense failed", err)
		return
	}

	if err := h.store.DeleteExpense(r.Context(), expense.ID, owner); err != nil {
		h.serverError(w, r, "delete expense failed", err)
		return
	}
	h.publish(r, events.ExpenseDeleted, expense)
	h.redirect(w, r, "/")
}

// ValidationError describes a rejected form or query field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func parseExpenseForm(r *http.Request) (ExpenseForm, models.Expense, error) {
	if err := r.ParseForm(); err != nil {
		return ExpenseForm{}, models.Expense{}, &ValidationError{Field: "form", Message: "Invalid form submission"}
	}
	form := ExpenseForm{
		Date:        strings.TrimSpace(r.PostFormValue("date")),
		Category:    strings.TrimSpace(r.PostFormValue("category")),
		Amount:      strings.TrimSpace(r.PostFormValue("amount")),
		Description: strings.TrimSpace(r.PostFormValue("description")),
	}

	if form.Date == "" {
		return form, models.Expense{}, &ValidationError{Field: "date", Message: "Date is required"}
	}
	date, err := time.Parse(models.DateLayout, form.Date)
	if err != nil {
		return form, models.Expense{}, &ValidationError{Field: "date", Message: "Invalid date, use YYYY-MM-DD"}
	}

	amount, err := parseAmount(form.Amount)
	if err != nil {
		return form, models.Expense{}, &ValidationError{Field: "amount", Message: "Invalid amount"}
	}

	return form, models.Expense{
		Date:        date,
		Category:    form.Category,
		Amount:      amount,
		Description: form.Description,
	}, nil
}

var errAmountOutOfRange = errors.New("amount out of range")

// parseAmount rejects values that do not survive conversion to a finite float.
func parseAmount(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	v := d.InexactFloat64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errAmountOutOfRange
	}
	return v, nil
}

func sumItems(items []ExpenseItem) float64 {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(decimal.NewFromFloat(item.Amount))
	}
	return total.InexactFloat64()
}

func formatGroupTitle(date, now time.Time) string {
	dateStr := date.Format(models.DateLayout)
	if dateStr == now.Format(models.DateLayout) {
		return "TODAY"
	}
	if dateStr == now.AddDate(0, 0, -1).Format(models.DateLayout) {
		return "YESTERDAY"
	}
	return strings.ToUpper(date.Format("Mon, 02 Jan '06"))
}
