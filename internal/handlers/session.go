package handlers

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"finitefield.org/fashion-storefront/internal/platform/requestctx"
)

// SessionCookieName names the checkout session cookie.
const SessionCookieName = "STOREFRONT_CHECKOUT_SESSION"

const ephemeralKeySize = 32

type sessionClaims struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionCookies issues and verifies HMAC-signed checkout session cookies.
type SessionCookies struct {
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewSessionCookies returns a cookie codec. An empty key is replaced by a random per-process key,
// which invalidates sessions on restart.
func NewSessionCookies(key string, ttl time.Duration, secure bool, logger *zap.Logger) *SessionCookies {
	signing := []byte(key)
	if len(signing) == 0 {
		signing = make([]byte, ephemeralKeySize)
		if _, err := rand.Read(signing); err != nil {
			signing = []byte("insecure-dev-key-set-STOREFRONT_SESSION_SIGNING_KEY")
		}
		if logger != nil {
			logger.Warn("session: using ephemeral signing key; set STOREFRONT_SESSION_SIGNING_KEY")
		}
	}
	return &SessionCookies{key: signing, ttl: ttl, secure: secure, now: time.Now}
}

// Middleware attaches the checkout session id to the request context, issuing a new cookie when
// the request has no valid one.
func (s *SessionCookies) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := s.read(r)
		if !ok {
			claims = sessionClaims{ID: ulid.Make().String(), CreatedAt: s.now().UTC()}
			s.write(w, claims)
		}
		ctx := requestctx.WithSessionID(r.Context(), claims.ID)
		ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("checkout_session", claims.ID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *SessionCookies) read(r *http.Request) (sessionClaims, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return sessionClaims{}, false
	}
	payloadPart, sigPart, found := strings.Cut(c.Value, ".")
	if !found {
		return sessionClaims{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return sessionClaims{}, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil || !hmac.Equal(sig, s.sign(payload)) {
		return sessionClaims{}, false
	}
	var claims sessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.ID == "" {
		return sessionClaims{}, false
	}
	if s.ttl > 0 && s.now().Sub(claims.CreatedAt) > s.ttl {
		return sessionClaims{}, false
	}
	return claims, true
}

func (s *SessionCookies) write(w http.ResponseWriter, claims sessionClaims) {
	payload, _ := json.Marshal(claims)
	value := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(s.sign(payload))
	cookie := &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if s.ttl > 0 {
		cookie.Expires = claims.CreatedAt.Add(s.ttl)
		cookie.MaxAge = int(s.ttl.Seconds())
	}
	http.SetCookie(w, cookie)
}

func (s *SessionCookies) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil)
}
