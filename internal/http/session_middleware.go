package httpx

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkoval/todolist/internal/domain"
)

type userContextKey string

const contextKeyUser userContextKey = "todolist-current-user"

type contextSetter interface {
	SetContext(context.Context)
}

// requireUser is the gate in front of every protected page. Requests without
// a live session are redirected to the login form carrying the original path
// in the next parameter, never answered with 401 or 403.
func (r *Router) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureUser(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureUser resolves the session cookie and enriches the context. On failure
// it issues the login redirect and reports false.
func (r *Router) ensureUser(w http.ResponseWriter, req *http.Request) (context.Context, *domain.User, bool) {
	user, ok := r.sessionUser(req)
	if !ok {
		r.redirectToLogin(w, req)
		return req.Context(), nil, false
	}
	ctx := context.WithValue(req.Context(), contextKeyUser, user)
	return ctx, user, true
}

// sessionUser resolves the cookie to a user without redirecting.
func (r *Router) sessionUser(req *http.Request) (*domain.User, bool) {
	cookie, err := req.Cookie(r.cfg.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	user, err := r.auth.Authenticate(req.Context(), cookie.Value)
	if err != nil {
		return nil, false
	}
	return user, true
}

func (r *Router) redirectToLogin(w http.ResponseWriter, req *http.Request) {
	target := "/login?next=" + url.QueryEscape(req.URL.RequestURI())
	http.Redirect(w, req, target, http.StatusFound)
}

// userFromContext extracts the authenticated user from context.
func userFromContext(ctx context.Context) (*domain.User, bool) {
	value := ctx.Value(contextKeyUser)
	if value == nil {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok
}

// safeNext only accepts local absolute paths as post-login destinations, so a
// crafted next parameter cannot redirect off-site. Backslashes are rejected
// because browsers normalize them to slashes when resolving the Location
// header, which would turn /\host into the protocol-relative //host.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") ||
		strings.Contains(next, "://") || strings.ContainsRune(next, '\\') {
		return "/tasks"
	}
	return next
}

func (r *Router) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (r *Router) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
