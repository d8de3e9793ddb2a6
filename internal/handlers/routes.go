package handlers

import (
	"io/fs"
	"net/http"

	"spendbook/internal/middleware"
)

// Routes registers every endpoint on a new mux. limiter throttles credential
// posts and may be nil.
func (h *Handlers) Routes(static fs.FS, limiter *middleware.Limiter) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /static/", middleware.StaticCache(86400)(
		http.StripPrefix("/static/", http.FileServerFS(static)),
	))
	mux.HandleFunc("GET /healthz", h.Health)

	protect := func(f http.HandlerFunc) http.Handler {
		if h.authEnabled {
			return h.AuthMiddleware(f)
		}
		return f
	}

	mux.Handle("GET /{$}", protect(h.ListExpenses))
	mux.Handle("GET /add", protect(h.CreateExpenseForm))
	mux.Handle("POST /add", protect(h.CreateExpense))
	mux.Handle("GET /edit/{id}", protect(h.EditExpenseForm))
	mux.Handle("POST /edit/{id}", protect(h.UpdateExpense))
	mux.Handle("GET /delete/{id}", protect(h.DeleteExpenseForm))
	mux.Handle("POST /delete/{id}", protect(h.DeleteExpense))
	mux.Handle("GET /search", protect(h.Search))
	mux.Handle("GET /dashboard", protect(h.Dashboard))

	if !h.authEnabled {
		return mux
	}

	throttle := func(f http.HandlerFunc) http.Handler {
		if limiter == nil {
			return f
		}
		return limiter.Limit(http.MethodPost)(f)
	}

	mux.HandleFunc("GET /login", h.LoginForm)
	mux.Handle("POST /login", throttle(h.Login))
	mux.HandleFunc("GET /logout", h.Logout)
	mux.HandleFunc("POST /logout", h.Logout)
	if h.allowRegistration {
		mux.HandleFunc("GET /register", h.RegisterForm)
		mux.Handle("POST /register", throttle(h.Register))
	}
	return mux
}
