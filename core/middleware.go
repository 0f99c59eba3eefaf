package core

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const (
	// SessionCookieName carries the signed session token.
	SessionCookieName = "auth-token"
	csrfSessionName   = "dashboard_csrf"
	csrfSessionMaxAge = 18000 // 5h
	claimsContextKey  = "claims"
	csrfContextKey    = "csrf_token"
)

// RouteClass is the session-gate classification of a page path.
type RouteClass int

const (
	RouteOther RouteClass = iota
	RouteProtected
	RoutePublic
)

const (
	loginPath     = "/login"
	dashboardPath = "/dashboard"
)

// ClassifyRoute maps a request path to its route class.
func ClassifyRoute(path string) RouteClass {
	switch {
	case path == dashboardPath || strings.HasPrefix(path, dashboardPath+"/"):
		return RouteProtected
	case path == loginPath || path == "/":
		return RoutePublic
	default:
		return RouteOther
	}
}

// SessionRedirect decides where, if anywhere, a page request must go.
// An empty result means pass through.
func SessionRedirect(class RouteClass, validSession bool) string {
	switch {
	case class == RouteProtected && !validSession:
		return loginPath
	case class == RoutePublic && validSession:
		return dashboardPath
	default:
		return ""
	}
}

// SessionVerifier validates a raw session token.
type SessionVerifier interface {
	VerifySession(token string) (*SessionClaims, bool)
}

// SessionGate redirects page requests based on route class and token validity.
// It never consults the credential store: a still-valid token of a deleted
// user is accepted until it expires.
func SessionGate(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, valid := sessionFromRequest(c, verifier)
		if target := SessionRedirect(ClassifyRoute(c.Request.URL.Path), valid); target != "" {
			c.Redirect(http.StatusFound, target)
			c.Abort()
			return
		}
		if valid {
			c.Set(claimsContextKey, claims)
		}
		c.Next()
	}
}

// RequireSession rejects API requests without a valid session with 401.
func RequireSession(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := sessionFromRequest(c, verifier)
		if !ok {
			respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
			c.Abort()
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// OptionalSession attaches claims when a valid session is present.
func OptionalSession(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := sessionFromRequest(c, verifier); ok {
			c.Set(claimsContextKey, claims)
		}
		c.Next()
	}
}

func sessionFromRequest(c *gin.Context, verifier SessionVerifier) (*SessionClaims, bool) {
	token, err := c.Cookie(SessionCookieName)
	if err != nil || token == "" {
		return nil, false
	}
	return verifier.VerifySession(token)
}

// claimsFrom returns the claims stored by the session middlewares, or nil.
func claimsFrom(c *gin.Context) *SessionClaims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*SessionClaims)
	return claims
}

func setSessionCookie(c *gin.Context, cfg Config, token string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(c *gin.Context, cfg Config) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// OriginRefererMiddleware validates Origin/Referer against the serving host
// and cfg.AllowedOrigins, and sets CORS headers for allowed cross origins.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(o)] = struct{}{}
	}

	isAllowed := func(origin, host string) bool {
		if origin == "" {
			// Same-origin navigation (no Origin header) is allowed.
			return true
		}
		u, err := url.Parse(origin)
		if err == nil && strings.EqualFold(u.Host, host) {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		referer := c.GetHeader("Referer")
		if origin == "" && referer != "" {
			if u, err := url.Parse(referer); err == nil {
				origin = u.Scheme + "://" + u.Host
			}
		}

		// Preflight handling
		if c.Request.Method == http.MethodOptions && origin != "" {
			if !isAllowed(origin, c.Request.Host) {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
				c.Abort()
				return
			}
			setCORSHeaders(c, origin)
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}

		if !isAllowed(origin, c.Request.Host) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			c.Abort()
			return
		}
		if origin != "" {
			setCORSHeaders(c, origin)
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Headers", "Content-Type, X-CSRF-Token")
	c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
}

// CSRFMiddleware issues and validates a per-browser CSRF token kept in a
// gorilla cookie-store session, separate from the stateless auth token.
func CSRFMiddleware(cfg Config, store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := store.Get(c.Request, csrfSessionName)
		if err != nil && session == nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
			c.Abort()
			return
		}

		token, _ := session.Values[csrfContextKey].(string)
		if token == "" {
			token, err = generateCSRFToken()
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
				c.Abort()
				return
			}
			session.Values[csrfContextKey] = token
			applySessionOptions(cfg, session)
			if err := session.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
				c.Abort()
				return
			}
		}

		if !isSafeMethod(c.Request.Method) && !csrfExemptPath(c.Request.URL.Path) {
			header := c.GetHeader("X-CSRF-Token")
			if header == "" || header != token {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "invalid csrf token")
				c.Abort()
				return
			}
		}

		// Expose token so frontend can read and reuse.
		c.Writer.Header().Set("X-CSRF-Token", token)
		c.Set(csrfContextKey, token)
		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// Paths that intentionally skip CSRF validation (login has no prior session).
func csrfExemptPath(path string) bool {
	return path == loginPath
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func applySessionOptions(cfg Config, session *sessions.Session) {
	if session.Options == nil {
		session.Options = &sessions.Options{}
	}
	session.Options.Path = "/"
	session.Options.MaxAge = csrfSessionMaxAge
	session.Options.HttpOnly = true
	session.Options.Secure = cfg.CookieSecure
	session.Options.SameSite = http.SameSiteStrictMode
}
