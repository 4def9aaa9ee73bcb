package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/cim-backend/pkg/auth"
	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/enums"
)

var jwtCfg = config.JWTConfig{Secret: "middleware-secret", Issuer: "cim", ExpirationMinutes: 60}

func signedHeader(t *testing.T, role enums.OperatorRole) (string, auth.Identity) {
	t.Helper()
	id := auth.Identity{UserID: uuid.New(), Role: role}
	token, err := auth.NewSigner(jwtCfg).Sign(time.Now(), id)
	require.NoError(t, err)
	return "Bearer " + token, id
}

func TestAuthRejectsUnauthenticated(t *testing.T) {
	handler := Auth(auth.NewVerifier(jwtCfg), nil)(okHandler())

	for name, header := range map[string]string{
		"missing":   "",
		"no scheme": "abc.def.ghi",
		"garbage":   "Bearer abc.def.ghi",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
		})
	}
}

func TestAuthStoresOperator(t *testing.T) {
	header, want := signedHeader(t, enums.OperatorRoleCashier)

	var got auth.Identity
	handler := Auth(auth.NewVerifier(jwtCfg), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
	req.Header.Set("Authorization", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, want, got)
}

func TestRequireRole(t *testing.T) {
	guarded := Auth(auth.NewVerifier(jwtCfg), nil)(RequireRole(nil, enums.OperatorRoleAdmin)(okHandler()))

	cashier, _ := signedHeader(t, enums.OperatorRoleCashier)
	admin, _ := signedHeader(t, enums.OperatorRoleAdmin)

	for header, want := range map[string]int{cashier: http.StatusForbidden, admin: http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/products/x/restock", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}

	rec := httptest.NewRecorder()
	RequireRole(nil, enums.OperatorRoleAdmin)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no operator on the context")
}
