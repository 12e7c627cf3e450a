package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/roomlink-settlements/internal/auth"
	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
)

var (
	adminID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	hostID  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

// newRequest builds a request as the router would hand it over: authenticated
// as (userID, role) and with the {id} route parameter set when id is non-empty.
func newRequest(method, target, body string, userID uuid.UUID, role domain.Role, id string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)

	ctx := req.Context()
	if userID != uuid.Nil {
		ctx = auth.ContextWithClaims(ctx, &auth.Claims{UserID: userID, Role: role})
	}
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

// dataAs re-decodes the response data into dst.
func dataAs(t *testing.T, resp APIResponse, dst any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}
