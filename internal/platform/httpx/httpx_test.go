package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func TestRespondErrorMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: x", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: busy", shared.ErrConflict), http.StatusConflict},
		{shared.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{shared.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{shared.ErrForbidden, http.StatusForbidden},
		{shared.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestIsolationViolationLooksLikeNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("%w: documents/secret-owner-t2", shared.ErrIsolationViolation))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.NotContains(t, rr.Body.String(), "t2")
	require.NotContains(t, rr.Body.String(), "isolation")
}

type payload struct {
	Name string `json:"name" validate:"required"`
}

func TestDecodeAndValidate(t *testing.T) {
	v := validator.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ok"}`))
	var p payload
	require.NoError(t, DecodeAndValidate(req, v, &p))
	require.Equal(t, "ok", p.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	require.ErrorIs(t, DecodeAndValidate(req, v, &payload{}), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	require.ErrorIs(t, DecodeAndValidate(req, v, &payload{}), shared.ErrValidation)
}

func TestProblemBody(t *testing.T) {
	rr := httptest.NewRecorder()
	Problem(rr, http.StatusConflict, "Conflict", "already open")
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, http.StatusConflict, body.Status)
	require.Equal(t, "already open", body.Detail)
}
