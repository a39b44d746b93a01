package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type testResolver struct {
	tokenToPrincipal map[string]string
	err              error
}

func (r *testResolver) ResolvePrincipal(_ context.Context, token string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	principal, ok := r.tokenToPrincipal[token]
	if !ok {
		return "", ErrUnauthorized
	}
	return principal, nil
}

func TestAuthMiddleware(t *testing.T) {
	resolver := &testResolver{tokenToPrincipal: map[string]string{"token": "alice"}}

	var seen string
	handler := AuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", seen)
}

func TestAuthMiddleware_Invalid(t *testing.T) {
	resolver := &testResolver{err: errors.New("invalid")}

	handler := AuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for name, header := range map[string]string{
		"missing": "",
		"unknown": "Bearer token",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)

			var env struct {
				Error APIError `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, KindUnauthorized, env.Error.Kind)
		})
	}
}

func TestApprover(t *testing.T) {
	require.Equal(t, "bob", Approver(context.Background(), "  bob "))
	require.Equal(t, "", Approver(context.Background(), ""))

	ctx := WithPrincipal(context.Background(), "alice")
	require.Equal(t, "alice", Approver(ctx, "bob"))
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "req-1", seen)
	require.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.NotEqual(t, "req-1", seen)
	require.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestLoggingMiddlewareRecordsPrincipal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	resolver := &testResolver{tokenToPrincipal: map[string]string{"token": "alice"}}

	handler := LoggingMiddleware(logger)(AuthMiddleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mode", nil)
	req.Header.Set("Authorization", "Bearer token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	require.Contains(t, line, `msg="http request"`)
	require.Contains(t, line, "principal=alice")
	require.Contains(t, line, "status=204")

	buf.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/mode", nil))
	require.Contains(t, buf.String(), "status=401")
	require.Contains(t, buf.String(), `principal=""`)
}
