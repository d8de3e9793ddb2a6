package handlers

import (
	"bytes"
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"spendbook/internal/auth"
	"spendbook/internal/events"
	"spendbook/internal/middleware"
	"spendbook/internal/models"
	"spendbook/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
	// SessionDuration is how long sessions last (30 days).
	SessionDuration = 30 * 24 * time.Hour
)

// Options configures Handlers.
type Options struct {
	// Templates holds base.html and the view templates at its root.
	Templates fs.FS
	// AuthEnabled gates every expense route behind a session and scopes
	// expenses to their owner.
	AuthEnabled       bool
	SessionSecret     []byte
	SecureCookie      bool
	AllowRegistration bool
	Events            events.Publisher
	Logger            *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store             storage.Store
	templates         fs.FS
	funcs             template.FuncMap
	authEnabled       bool
	allowRegistration bool
	signer            *auth.CookieSigner
	secureCookie      bool
	events            events.Publisher
	log               *zap.Logger
	now               func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store storage.Store, opts Options) *Handlers {
	h := &Handlers{
		store:             store,
		templates:         opts.Templates,
		authEnabled:       opts.AuthEnabled,
		allowRegistration: opts.AllowRegistration,
		secureCookie:      opts.SecureCookie,
		events:            opts.Events,
		log:               opts.Logger,
		now:               opts.Now,
	}
	if h.authEnabled {
		h.signer = auth.NewCookieSigner(opts.SessionSecret)
	}
	if h.events == nil {
		h.events = events.NopPublisher{}
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.funcs = template.FuncMap{
		"money":   formatMoney,
		"date":    formatDate,
		"percent": formatPercent,
	}
	return h
}

func formatDate(t time.Time) string { return t.Format(models.DateLayout) }

func formatPercent(v float64) string { return decimal.NewFromFloat(v).StringFixed(1) }

// AuthEnabled reports whether expense routes require a session.
func (h *Handlers) AuthEnabled() bool { return h.authEnabled }

// RegistrationEnabled reports whether new accounts can sign up.
func (h *Handlers) RegistrationEnabled() bool { return h.authEnabled && h.allowRegistration }

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// ownerID is the owner scope of the request; empty when auth is disabled.
func ownerID(r *http.Request) string {
	if user := GetUserFromContext(r); user != nil {
		return user.ID
	}
	return ""
}

// Page is embedded in every view model and feeds the shared layout.
type Page struct {
	Title        string
	User         *models.User
	AuthEnabled  bool
	CanRegister  bool
	ActiveTab    string
	TodayISODate string
}

func (h *Handlers) page(r *http.Request, title, tab string) Page {
	return Page{
		Title:        title,
		User:         GetUserFromContext(r),
		AuthEnabled:  h.authEnabled,
		CanRegister:  h.RegistrationEnabled(),
		ActiveTab:    tab,
		TodayISODate: h.now().Format(models.DateLayout),
	}
}

// Health reports whether the store is reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.logger(r).Warn("health check failed", zap.Error(err))
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *Handlers) logger(r *http.Request) *zap.Logger {
	if id := middleware.RequestID(r.Context()); id != "" {
		return h.log.With(zap.String("request_id", id))
	}
	return h.log
}

func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger(r).Error(msg, zap.Error(err), zap.String("path", r.URL.Path))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (h *Handlers) notFound(w http.ResponseWriter) {
	http.Error(w, "Expense not found", http.StatusNotFound)
}

// redirect sends the browser to path after a successful form post.
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, path string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Location", `{"path":"`+path+`", "target":"#content"}`)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func (h *Handlers) publish(r *http.Request, eventType string, e *models.Expense) {
	if err := h.events.Publish(r.Context(), events.NewExpenseEvent(eventType, e, h.now())); err != nil {
		h.logger(r).Warn("failed to publish expense event",
			zap.String("type", eventType),
			zap.String("expense_id", e.ID),
			zap.Error(err))
	}
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, viewName string, data any) {
	h.renderStatus(w, r, http.StatusOK, viewName, data)
}

func (h *Handlers) renderStatus(w http.ResponseWriter, r *http.Request, status int, viewName string, data any) {
	tmpl, err := template.New(viewName).Funcs(h.funcs).ParseFS(h.templates, "base.html", viewName)
	if err != nil {
		h.serverError(w, r, "template parse failed", err)
		return
	}
	target := "base.html"
	if r.Header.Get("HX-Request") == "true" {
		target = "content"
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, target, data); err != nil {
		h.serverError(w, r, "template execution failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func formatMoney(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// sumAmounts adds amounts in decimal so that totals print without float noise.
func sumAmounts(expenses []models.Expense) float64 {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(decimal.NewFromFloat(e.Amount))
	}
	return total.InexactFloat64()
}

// CategoryDef defines the properties of a suggested category.
type CategoryDef struct {
	ID    string
	Name  string
	Icon  string
	Color string
}

var categories = []CategoryDef{
	{"food", "Food", "🍽️", "#60a5fa"},
	{"transport", "Transport", "🚌", "#a78bfa"},
	{"entertainment", "Entertainment", "🎮", "#f472b6"},
	{"utilities", "Utilities", "💡", "#fbbf24"},
	{"housing", "Housing", "🏠", "#818cf8"},
	{"gifts", "Gifts", "🎁", "#fb7185"},
	{"other", "Other", "📦", "#94a3b8"},
}

// CategoryStyle defines the visual style for a category.
type CategoryStyle struct {
	Icon  string
	Color string
}

func getCategoryStyle(category string) CategoryStyle {
	catLower := strings.ToLower(strings.TrimSpace(category))
	for _, c := range categories {
		if c.ID == catLower {
			return CategoryStyle{Icon: c.Icon, Color: c.Color}
		}
	}
	return CategoryStyle{Icon: "📦", Color: "#94a3b8"}
}

// ExpenseItem represents an expense in a list view.
type ExpenseItem struct {
	models.Expense
	CategoryStyle CategoryStyle
}

func toItems(expenses []models.Expense) []ExpenseItem {
	items := make([]ExpenseItem, 0, len(expenses))
	for _, e := range expenses {
		items = append(items, ExpenseItem{Expense: e, CategoryStyle: getCategoryStyle(e.Category)})
	}
	return items
}
