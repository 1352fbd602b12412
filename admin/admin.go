// Package admin authenticates visitors with Firebase Auth and gates routes by
// role.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang/glog"

	"github.com/jcgregorio/gamesite/user"
)

const (
	SESSION_COOKIE = "session"
	SESSION_TTL    = 5 * 24 * time.Hour

	// A session cookie is only minted from an ID token this fresh.
	MAX_AUTH_AGE = 5 * time.Minute
)

var ErrStaleLogin = errors.New("Recent sign-in required.")

// Verifier is the subset of *auth.Client used here.
type Verifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	VerifySessionCookieAndCheckRevoked(ctx context.Context, sessionCookie string) (*auth.Token, error)
	SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// Users is the subset of *user.Store used here.
type Users interface {
	Ensure(ctx context.Context, uid, email, name, photo string, bootstrapAdmin bool) (*user.User, error)
}

type Auth struct {
	Verifier Verifier
	Users    Users

	// IsAdminEmail reports whether a verified email belongs to a bootstrap
	// administrator.
	IsAdminEmail func(email string) bool

	// Secure marks the session cookie as https only.
	Secure bool

	now func() time.Time
}

func New(v Verifier, users Users, isAdminEmail func(string) bool, secure bool) *Auth {
	return &Auth{
		Verifier:     v,
		Users:        users,
		IsAdminEmail: isAdminEmail,
		Secure:       secure,
		now:          time.Now,
	}
}

func claim(t *auth.Token, name string) string {
	if s, ok := t.Claims[name].(string); ok {
		return s
	}
	return ""
}

func (a *Auth) ensure(ctx context.Context, t *auth.Token) (*user.User, error) {
	email := claim(t, "email")
	verified, _ := t.Claims["email_verified"].(bool)
	bootstrap := verified && email != "" && a.IsAdminEmail != nil && a.IsAdminEmail(email)
	return a.Users.Ensure(ctx, t.UID, email, claim(t, "name"), claim(t, "picture"), bootstrap)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Authenticate returns the signed in user, or nil if the request carries no
// valid credentials.
func (a *Auth) Authenticate(r *http.Request) *user.User {
	ctx := r.Context()
	var t *auth.Token
	var err error
	if c, cerr := r.Cookie(SESSION_COOKIE); cerr == nil && c.Value != "" {
		t, err = a.Verifier.VerifySessionCookieAndCheckRevoked(ctx, c.Value)
	} else if idToken := bearer(r); idToken != "" {
		t, err = a.Verifier.VerifyIDToken(ctx, idToken)
	} else {
		return nil
	}
	if err != nil {
		glog.V(1).Infof("Failed to verify credentials: %s", err)
		return nil
	}
	u, err := a.ensure(ctx, t)
	if err != nil {
		glog.Errorf("Failed to load user %q: %s", t.UID, err)
		return nil
	}
	return u
}

// Revoke ends every session of uid. Session cookies minted before the call
// stop verifying.
func (a *Auth) Revoke(ctx context.Context, uid string) error {
	if err := a.Verifier.RevokeRefreshTokens(ctx, uid); err != nil {
		return fmt.Errorf("Failed to revoke sessions of %q: %w", uid, err)
	}
	glog.Infof("Revoked sessions of %s", uid)
	return nil
}

type contextKey int

const userKey contextKey = 0

func WithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// FromContext returns the user stored by Middleware, or nil.
func FromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(userKey).(*user.User)
	return u
}

// Middleware authenticates every request and stores the user, if any, in the
// request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := a.Authenticate(r); u != nil {
			r = r.WithContext(WithUser(r.Context(), u))
		}
		next.ServeHTTP(w, r)
	})
}

// SafeNext returns next if it is a local path, otherwise "/".
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return "/"
	}
	return next
}

// RequirePage gates HTML routes. Anonymous visitors are sent to the login
// page and signed in users without the role are sent home.
func RequirePage(role user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := FromContext(r.Context())
			if u == nil {
				http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
				return
			}
			if !u.Role.Allows(role) {
				glog.Warningf("%q with role %q denied %s", u.Email, u.Role, r.URL.Path)
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireAPI gates JSON routes with 401 and 403 responses.
func RequireAPI(role user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := FromContext(r.Context())
			if u == nil {
				jsonError(w, "Sign in required.", http.StatusUnauthorized)
				return
			}
			if !u.Role.Allows(role) {
				jsonError(w, "Forbidden.", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type loginRequest struct {
	IDToken string `json:"idToken"`
}

// Login exchanges a freshly minted ID token for a session cookie.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		jsonError(w, "Missing idToken.", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	t, err := a.Verifier.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		glog.Warningf("Login with bad ID token: %s", err)
		jsonError(w, "Invalid ID token.", http.StatusUnauthorized)
		return
	}
	if a.now().Sub(time.Unix(t.AuthTime, 0)) > MAX_AUTH_AGE {
		jsonError(w, ErrStaleLogin.Error(), http.StatusUnauthorized)
		return
	}
	u, err := a.ensure(ctx, t)
	if err != nil {
		glog.Errorf("Failed to create profile for %q: %s", t.UID, err)
		jsonError(w, "Failed to load profile.", http.StatusInternalServerError)
		return
	}
	cookie, err := a.Verifier.SessionCookie(ctx, req.IDToken, SESSION_TTL)
	if err != nil {
		glog.Errorf("Failed to create session cookie: %s", err)
		jsonError(w, "Failed to create session.", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SESSION_COOKIE,
		Value:    cookie,
		Path:     "/",
		MaxAge:   int(SESSION_TTL.Seconds()),
		HttpOnly: true,
		Secure:   a.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	glog.Infof("Signed in %q as %s", u.Email, u.Role)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"role": string(u.Role),
		"next": SafeNext(r.URL.Query().Get("next")),
	})
}

// Logout clears the session cookie.
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SESSION_COOKIE,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
