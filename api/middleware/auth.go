package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/shopcore/api/responses"
	pkgAuth "github.com/angelmondragon/shopcore/pkg/auth"
	"github.com/angelmondragon/shopcore/pkg/config"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

const sessionHeader = "X-Session-Id"

// Auth validates a bearer token and seeds the request context with the actor.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	codec, codecErr := pkgAuth.NewCodec(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := verify(codec, codecErr, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(seedActor(r, logg, claims)))
		})
	}
}

// OptionalAuth accepts anonymous requests carrying a guest session header.
// A token, when present, must still be valid.
func OptionalAuth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	codec, codecErr := pkgAuth.NewCodec(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if session := strings.TrimSpace(r.Header.Get(sessionHeader)); session != "" {
				ctx = WithSessionID(ctx, session)
				r = r.WithContext(ctx)
			}

			token := bearerToken(r)
			if token == "" {
				if SessionIDFromContext(ctx) == "" {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token or session required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verify(codec, codecErr, token)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			next.ServeHTTP(w, r.WithContext(seedActor(r, logg, claims)))
		})
	}
}

func verify(codec *pkgAuth.Codec, codecErr error, token string) (*pkgAuth.AccessTokenClaims, error) {
	if codecErr != nil {
		return nil, codecErr
	}
	return codec.Parse(token)
}

func bearerToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func seedActor(r *http.Request, logg *logger.Logger, claims *pkgAuth.AccessTokenClaims) context.Context {
	actor := pkgAuth.ActorFromClaims(claims)
	ctx := WithActor(r.Context(), actor)
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"user_id":    actor.UserID.String(),
			"actor_role": string(actor.Role),
		})
	}
	return ctx
}
