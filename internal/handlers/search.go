package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"spendbook/internal/models"
)

// SearchForm echoes the submitted search parameters.
type SearchForm struct {
	Query     string
	StartDate string
	EndDate   string
	MinAmount string
	MaxAmount string
}

// SearchViewModel is the data passed to the search template.
type SearchViewModel struct {
	Page
	Form     SearchForm
	Error    string
	Searched bool
	Results  []ExpenseItem
	Total    float64
}

// searchParams are the query parameters the search form submits. query is
// accepted as an alias of q.
var searchParams = []string{"q", "query", "start_date", "end_date", "min_amount", "max_amount"}

// searchText returns q, falling back to query.
func searchText(q url.Values) string {
	if q.Has("q") {
		return q.Get("q")
	}
	return q.Get("query")
}

// ParseSearch validates search query parameters into a filter. The filter
// carries no owner.
func ParseSearch(q url.Values) (models.ExpenseFilter, error) {
	var f models.ExpenseFilter
	f.Query = strings.TrimSpace(searchText(q))

	var err error
	if f.StartDate, err = parseOptionalDate(q.Get("start_date"), "start_date", "Invalid start date, use YYYY-MM-DD"); err != nil {
		return f, err
	}
	if f.EndDate, err = parseOptionalDate(q.Get("end_date"), "end_date", "Invalid end date, use YYYY-MM-DD"); err != nil {
		return f, err
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return f, &ValidationError{Field: "start_date", Message: "Start date must be on or before end date"}
	}

	if f.MinAmount, err = parseOptionalAmount(q.Get("min_amount"), "min_amount", "Invalid minimum amount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseOptionalAmount(q.Get("max_amount"), "max_amount", "Invalid maximum amount"); err != nil {
		return f, err
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return f, &ValidationError{Field: "min_amount", Message: "Minimum amount must not exceed maximum amount"}
	}
	return f, nil
}

func parseOptionalDate(raw, field, msg string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: msg}
	}
	return &t, nil
}

func parseOptionalAmount(raw, field, msg string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := parseAmount(raw)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: msg}
	}
	return &v, nil
}

// Search renders the search form and, when any criterion is given, its results.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vm := SearchViewModel{
		Page: h.page(r, "Search", "search"),
		Form: SearchForm{
			Query:     searchText(q),
			StartDate: q.Get("start_date"),
			EndDate:   q.Get("end_date"),
			MinAmount: q.Get("min_amount"),
			MaxAmount: q.Get("max_amount"),
		},
	}

	filter, err := ParseSearch(q)
	if err != nil {
		vm.Error = err.Error()
		h.renderStatus(w, r, http.StatusBadRequest, "search.html", vm)
		return
	}
	if filter.IsEmpty() {
		for _, p := range searchParams {
			if q.Has(p) {
				vm.Error = "Please enter a search term."
				break
			}
		}
		h.render(w, r, "search.html", vm)
		return
	}

	filter.OwnerID = ownerID(r)
	results, err := h.store.SearchExpenses(r.Context(), filter)
	if err != nil {
		h.serverError(w, r, "search expenses failed", err)
		return
	}

	vm.Searched = true
	vm.Results = toItems(results)
	vm.Total = sumAmounts(results)
	h.render(w, r, "search.html", vm)
}
