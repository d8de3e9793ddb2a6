package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"spendbook/internal/auth"
	"spendbook/internal/models"
	"spendbook/internal/storage"

	"go.uber.org/zap"
)

const maxUsernameLength = 64

// LoginViewModel is the view model for the login page.
type LoginViewModel struct {
	Page
	Username string
	Error    string
}

// RegisterViewModel is the view model for the registration page.
type RegisterViewModel struct {
	Page
	Username string
	Error    string
}

// sessionFromCookie resolves the session cookie into its stored session.
// It returns storage.ErrNotFound for a missing, forged, expired or revoked
// session.
func (h *Handlers) sessionFromCookie(r *http.Request) (*auth.CookieClaims, *storage.SessionInfo, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil, storage.ErrNotFound
	}
	now := h.now()
	claims, err := h.signer.Verify(cookie.Value, now)
	if err != nil {
		return nil, nil, storage.ErrNotFound
	}
	info, err := h.store.ValidateSessionWithInfo(r.Context(), claims.SessionToken(), now)
	if err != nil {
		return nil, nil, err
	}
	if info.User.ID != claims.UserID() {
		return nil, nil, storage.ErrNotFound
	}
	return claims, info, nil
}

// AuthMiddleware checks for valid session and adds user to context.
// Sessions past half their lifetime are extended.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, info, err := h.sessionFromCookie(r)
		if errors.Is(err, storage.ErrNotFound) {
			h.clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if err != nil {
			h.serverError(w, r, "session lookup failed", err)
			return
		}

		now := h.now()
		if info.ExpiresAt.Sub(now) < SessionDuration/2 {
			h.renewSession(w, r, claims.SessionToken(), info.User.ID, now)
		}

		ctx := context.WithValue(r.Context(), UserContextKey, info.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handlers) renewSession(w http.ResponseWriter, r *http.Request, token, userID string, now time.Time) {
	expiresAt := now.Add(SessionDuration)
	if err := h.store.RenewSession(r.Context(), token, expiresAt); err != nil {
		h.logger(r).Warn("failed to renew session", zap.Error(err))
		return
	}
	value, err := h.signer.Sign(token, userID, now, expiresAt)
	if err != nil {
		h.logger(r).Warn("failed to sign renewed session", zap.Error(err))
		return
	}
	h.setSessionCookie(w, value, expiresAt)
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, user *models.User) error {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return err
	}
	now := h.now()
	expiresAt := now.Add(SessionDuration)
	if err := h.store.CreateSession(r.Context(), token, user.ID, expiresAt); err != nil {
		return err
	}
	value, err := h.signer.Sign(token, user.ID, now, expiresAt)
	if err != nil {
		return err
	}
	h.setSessionCookie(w, value, expiresAt)
	return nil
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// LoginForm renders the login page.
func (h *Handlers) LoginForm(w http.ResponseWriter, r *http.Request) {
	// Already logged in
	if _, _, err := h.sessionFromCookie(r); err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, r, "login.html", LoginViewModel{Page: h.page(r, "Log in", "")})
}

// Login handles login form submission.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	vm := LoginViewModel{Page: h.page(r, "Log in", ""), Username: username}

	if username == "" || password == "" {
		vm.Error = "Username and password are required"
		h.render(w, r, "login.html", vm)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger(r).Error("failed to look up user", zap.Error(err))
			vm.Error = "An error occurred"
			h.render(w, r, "login.html", vm)
			return
		}
		auth.SpendComparison(password)
		vm.Error = "Invalid username or password"
		h.render(w, r, "login.html", vm)
		return
	}

	if !auth.CheckPassword(password, user.PasswordHash) {
		vm.Error = "Invalid username or password"
		h.render(w, r, "login.html", vm)
		return
	}

	if err := h.startSession(w, r, user); err != nil {
		h.logger(r).Error("failed to create session", zap.Error(err))
		vm.Error = "An error occurred"
		h.render(w, r, "login.html", vm)
		return
	}

	h.logger(r).Info("user logged in", zap.String("username", user.Username))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles logout.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		// An expired cookie still names a session worth deleting.
		if claims, err := h.signer.Verify(cookie.Value, time.Time{}); err == nil {
			if err := h.store.DeleteSession(r.Context(), claims.SessionToken()); err != nil {
				h.logger(r).Warn("failed to delete session", zap.Error(err))
			}
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// RegisterForm renders the registration page.
func (h *Handlers) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "register.html", RegisterViewModel{Page: h.page(r, "Sign up", "")})
}

// Register creates an account and logs it in.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	vm := RegisterViewModel{Page: h.page(r, "Sign up", ""), Username: username}

	fail := func(msg string) {
		vm.Error = msg
		h.renderStatus(w, r, http.StatusBadRequest, "register.html", vm)
	}

	switch {
	case username == "" || password == "":
		fail("Username and password are required")
		return
	case len(username) > maxUsernameLength:
		fail("Username must be at most 64 characters")
		return
	case len(password) < auth.MinPasswordLength:
		fail("Password must be at least 8 characters")
		return
	case len(password) > auth.MaxPasswordLength:
		fail("Password must be at most 72 bytes")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		h.serverError(w, r, "failed to hash password", err)
		return
	}

	user, err := h.store.CreateUser(r.Context(), username, hash)
	if errors.Is(err, storage.ErrDuplicateUsername) {
		fail("Username is already taken")
		return
	}
	if err != nil {
		h.serverError(w, r, "failed to create user", err)
		return
	}

	if err := h.startSession(w, r, user); err != nil {
		h.serverError(w, r, "failed to create session", err)
		return
	}

	h.logger(r).Info("user registered", zap.String("username", user.Username))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SeedAdmin creates the initial account when no users exist yet.
func SeedAdmin(ctx context.Context, store storage.Store, username, password string) (bool, error) {
	count, err := store.UserCount(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := auth.ValidatePassword(password); err != nil {
		return false, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := store.CreateUser(ctx, username, hash); err != nil {
		if errors.Is(err, storage.ErrDuplicateUsername) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
