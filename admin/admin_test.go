package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcgregorio/gamesite/user"
)

type fakeVerifier struct {
	tokens   map[string]*auth.Token
	sessions map[string]*auth.Token
	revoked  map[string]bool
}

func (f *fakeVerifier) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	if t, ok := f.tokens[idToken]; ok {
		return t, nil
	}
	return nil, errors.New("bad token")
}

func (f *fakeVerifier) VerifySessionCookieAndCheckRevoked(ctx context.Context, cookie string) (*auth.Token, error) {
	t, ok := f.sessions[cookie]
	if !ok {
		return nil, errors.New("bad cookie")
	}
	if f.revoked[t.UID] {
		return nil, errors.New("session cookie revoked")
	}
	return t, nil
}

func (f *fakeVerifier) RevokeRefreshTokens(ctx context.Context, uid string) error {
	if uid == "" {
		return errors.New("uid must be non-empty")
	}
	f.revoked[uid] = true
	return nil
}

func (f *fakeVerifier) SessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	t, ok := f.tokens[idToken]
	if !ok {
		return "", errors.New("bad token")
	}
	cookie := "cookie-" + idToken
	f.sessions[cookie] = t
	return cookie, nil
}

type fakeUsers struct {
	bootstrap map[string]bool
	roles     map[string]user.Role
}

func (f *fakeUsers) Ensure(ctx context.Context, uid, email, name, photo string, bootstrapAdmin bool) (*user.User, error) {
	f.bootstrap[uid] = bootstrapAdmin
	role, ok := f.roles[uid]
	if !ok {
		role = user.VIEWER
	}
	return &user.User{UID: uid, Email: email, Name: name, Role: role}, nil
}

func newAuth(now time.Time) (*Auth, *fakeVerifier, *fakeUsers) {
	v := &fakeVerifier{
		tokens: map[string]*auth.Token{
			"alice": {UID: "u1", AuthTime: now.Unix(), Claims: map[string]interface{}{"email": "alice@example.org", "email_verified": true, "name": "Alice"}},
			"bob":   {UID: "u2", AuthTime: now.Add(-time.Hour).Unix(), Claims: map[string]interface{}{"email": "bob@example.org"}},
		},
		sessions: map[string]*auth.Token{},
		revoked:  map[string]bool{},
	}
	users := &fakeUsers{bootstrap: map[string]bool{}, roles: map[string]user.Role{"u1": user.ADMIN}}
	a := New(v, users, func(email string) bool { return email == "alice@example.org" || email == "bob@example.org" }, true)
	a.now = func() time.Time { return now }
	return a, v, users
}

func TestRevoke(t *testing.T) {
	a, v, _ := newAuth(time.Now())
	v.sessions["s1"] = v.tokens["alice"]
	v.sessions["s2"] = v.tokens["bob"]

	signedIn := func(cookie string) *user.User {
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: SESSION_COOKIE, Value: cookie})
		return a.Authenticate(r)
	}
	require.NotNil(t, signedIn("s1"))
	require.NotNil(t, signedIn("s2"))

	require.NoError(t, a.Revoke(context.Background(), "u1"))
	assert.Nil(t, signedIn("s1"))
	assert.NotNil(t, signedIn("s2"))

	assert.Error(t, a.Revoke(context.Background(), ""))
}

func TestAuthenticate(t *testing.T) {
	a, v, users := newAuth(time.Now())
	v.sessions["s1"] = v.tokens["alice"]

	r := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, a.Authenticate(r))

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: SESSION_COOKIE, Value: "s1"})
	u := a.Authenticate(r)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.UID)
	assert.True(t, users.bootstrap["u1"])

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer bob")
	u = a.Authenticate(r)
	require.NotNil(t, u)
	assert.Equal(t, user.VIEWER, u.Role)
	// An unverified email never bootstraps an administrator.
	assert.False(t, users.bootstrap["u2"])

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer nope")
	assert.Nil(t, a.Authenticate(r))
}

func TestRequirePage(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := RequirePage(user.EDITOR)(ok)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/admin/posts?page=2", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login?next=%2Fadmin%2Fposts%3Fpage%3D2", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/admin/posts", nil)
	r = r.WithContext(WithUser(r.Context(), &user.User{Role: user.VIEWER}))
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	r = httptest.NewRequest("GET", "/admin/posts", nil)
	r = r.WithContext(WithUser(r.Context(), &user.User{Role: user.ADMIN}))
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRequireAPI(t *testing.T) {
	h := RequireAPI(user.VIEWER)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/posts/x/reactions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Sign in required.")

	w = httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/posts/x/reactions", nil)
	r = r.WithContext(WithUser(r.Context(), &user.User{Role: "banned"}))
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest("POST", "/api/posts/x/reactions", nil)
	r = r.WithContext(WithUser(r.Context(), &user.User{Role: user.VIEWER}))
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin(t *testing.T) {
	a, _, _ := newAuth(time.Now())

	w := httptest.NewRecorder()
	a.Login(w, httptest.NewRequest("POST", "/login?next=/admin", strings.NewReader(`{"idToken":"alice"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"next":"/admin"`)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SESSION_COOKIE, cookies[0].Name)
	assert.Equal(t, "cookie-alice", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	// The session cookie now authenticates.
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(cookies[0])
	assert.NotNil(t, a.Authenticate(r))

	w = httptest.NewRecorder()
	a.Login(w, httptest.NewRequest("POST", "/login", strings.NewReader(`{"idToken":"bob"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), ErrStaleLogin.Error())

	w = httptest.NewRecorder()
	a.Login(w, httptest.NewRequest("POST", "/login", strings.NewReader(`{"idToken":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	a.Login(w, httptest.NewRequest("POST", "/login", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout(t *testing.T) {
	a, _, _ := newAuth(time.Now())
	w := httptest.NewRecorder()
	a.Logout(w, httptest.NewRequest("GET", "/logout", nil))
	assert.Equal(t, http.StatusSeeOther, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "", cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/admin/posts", SafeNext("/admin/posts"))
	assert.Equal(t, "/", SafeNext(""))
	assert.Equal(t, "/", SafeNext("https://evil.example.com/"))
	assert.Equal(t, "/", SafeNext("//evil.example.com/"))
	assert.Equal(t, "/", SafeNext("/\\evil.example.com"))
}
