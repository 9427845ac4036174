package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/horizon/portal-ledger/internal/config"
)

// OperatorHeader names the operator when no bearer token is sent.
const OperatorHeader = "X-Operator"

// maxActorLength caps the recorded actor name.
const maxActorLength = 120

// OperatorClaims are the bearer token claims read for the audit actor.
type OperatorClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// ActorFrom returns the actor resolved by Identity, "" if none.
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Identity resolves who is calling: the "name" claim of a valid bearer
// token (falling back to "sub"), else the X-Operator header. A token that
// fails verification is rejected with 401. With RequireToken set, mutating
// requests without a token are rejected as well.
func Identity(cfg *config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var actor string

			token, hasToken := bearerToken(r)
			switch {
			case hasToken && cfg.JWTSecret != "":
				claims, err := ParseOperatorToken(cfg, token)
				if err != nil {
					slog.Warn("auth: invalid bearer token",
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
						"error", err,
					)
					writeAuthError(w, http.StatusUnauthorized, "invalid bearer token", "AUTH_INVALID_TOKEN")
					return
				}
				actor = claims.Name
				if actor == "" {
					actor = claims.Subject
				}

			case cfg.RequireToken && !isReadOnly(r.Method):
				writeAuthError(w, http.StatusUnauthorized, "bearer token required", "AUTH_MISSING_TOKEN")
				return

			default:
				actor = r.Header.Get(OperatorHeader)
			}

			actor = cleanActor(actor)
			if actor != "" {
				r = r.WithContext(context.WithValue(r.Context(), actorKey{}, actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseOperatorToken verifies an HS256 token against the configured secret,
// issuer and audience.
func ParseOperatorToken(cfg *config.AuthConfig, token string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.JWTIssuer))
	}
	if cfg.JWTAudience != "" {
		opts = append(opts, jwt.WithAudience(cfg.JWTAudience))
	}

	claims := &OperatorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func isReadOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// cleanActor drops control characters and caps the length.
func cleanActor(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	for utf8.RuneCountInString(s) > maxActorLength {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}
