package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ballotbox/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionCookie    = "ballotbox_session"
	selectionsCookie = "encrypted_selections"
)

// GenerateToken signs a session token for s that expires after expiry.
func GenerateToken(secret []byte, s *models.VoterSession, expiry time.Duration) (string, error) {
	if len(secret) < 32 {
		return "", errors.New("api: session key too short")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Subject:   strconv.FormatInt(s.VoterNumber, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateToken parses a session token. Only HS256 is accepted.
func ValidateToken(secret []byte, tokenStr string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// authenticate resolves the session cookie to a live voter session. Missing
// or stale cookies are ignored here; requireAuth enforces.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ValidateToken(s.opts.SessionKey, c.Value)
		if err != nil {
			s.clearCookie(w, sessionCookie)
			next.ServeHTTP(w, r)
			return
		}
		session, err := s.svc.Session(claims.ID)
		if err != nil || strconv.FormatInt(session.VoterNumber, 10) != claims.Subject {
			s.clearCookie(w, sessionCookie)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *models.VoterSession {
	s, _ := ctx.Value(sessionKey).(*models.VoterSession)
	return s
}

// requireAuth sends requests without a voter session to check-in.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sessionFrom(r.Context()) == nil {
			http.Redirect(w, r, "/checkin", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.opts.SessionLifetime.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.opts.SecureCookies,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.opts.SecureCookies,
	})
}
