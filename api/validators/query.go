package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/cim-backend/pkg/errors"
	"github.com/angelmondragon/cim-backend/pkg/pagination"
)

// ParsePageParams reads ?limit= and ?cursor= for keyset listings. The cursor
// is passed through opaque; the repository decodes it.
func ParsePageParams(r *http.Request) (pagination.Params, error) {
	q := r.URL.Query()
	params := pagination.Params{
		Limit:  pagination.DefaultLimit,
		Cursor: strings.TrimSpace(q.Get("cursor")),
	}

	raw := strings.TrimSpace(q.Get("limit"))
	if raw == "" {
		return params, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "limit must be an integer").
			WithDetails(map[string]any{"field": "limit"})
	}
	if limit < 1 || limit > pagination.MaxLimit {
		return pagination.Params{}, pkgerrors.New(pkgerrors.CodeValidation, "limit out of range").
			WithDetails(map[string]any{"field": "limit", "min": 1, "max": pagination.MaxLimit})
	}
	params.Limit = limit
	return params, nil
}
