package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/cim-backend/api/responses"
	"github.com/angelmondragon/cim-backend/pkg/auth"
	"github.com/angelmondragon/cim-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/logger"
)

// Auth admits requests carrying a valid operator bearer token.
func Auth(verifier *auth.Verifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "missing credentials"))
				return
			}
			operator, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithOperator(r.Context(), operator)
			if logg != nil {
				ctx = logg.WithUserID(ctx, operator.UserID.String())
				ctx = logg.WithActorRole(ctx, string(operator.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole admits only operators carrying one of roles.
func RequireRole(logg *logger.Logger, roles ...enums.OperatorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator, ok := OperatorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !slices.Contains(roles, operator.Role) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeForbidden, "role %s may not perform this action", operator.Role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
