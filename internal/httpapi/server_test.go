package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"feedsync/internal/config"
	"feedsync/internal/envelope"
	"feedsync/internal/fetcher"
	"feedsync/internal/service"
)

type fixedRunner service.Result

func (r fixedRunner) Run(context.Context) service.Result { return service.Result(r) }

type querierFunc func(ctx context.Context, p service.QueryParams) (json.RawMessage, error)

func (f querierFunc) Query(ctx context.Context, p service.QueryParams) (json.RawMessage, error) {
	return f(ctx, p)
}

func serve(t *testing.T, s *Server, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func newServer(quotes, news service.Runner, proxy Querier) *Server {
	return NewServer(config.ServerConfig{Addr: ":0"}, "x-forward-cookie", quotes, news, proxy, zerolog.Nop())
}

func TestRunRoutes(t *testing.T) {
	s := newServer(
		fixedRunner{Source: "quotes", Status: service.StatusPersisted, RecordsConsidered: 2, RecordsWritten: 2},
		fixedRunner{Source: "news", Status: service.StatusFailed, ErrorKind: service.KindTransientUpstream, Error: "retries exhausted"},
		nil,
	)

	rec := serve(t, s, http.MethodGet, "/scrapy-etf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `"persisted"`, jsonField(t, rec, "status"))
	require.JSONEq(t, `2`, jsonField(t, rec, "recordsWritten"))

	rec = serve(t, s, http.MethodGet, "/news", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `"retries exhausted"`, jsonField(t, rec, "error"))
}

func TestProxyRoute(t *testing.T) {
	var got service.QueryParams
	s := newServer(nil, nil, querierFunc(func(_ context.Context, p service.QueryParams) (json.RawMessage, error) {
		got = p
		return json.RawMessage(`[{"SEC_CODE":"510300"}]`), nil
	}))

	rec := serve(t, s, http.MethodGet, "/sse-etf?sqlId=X&page=2&pageSize=20&STAT_DATE=2026-10-14", http.Header{"X-Forward-Cookie": {"ba=1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[{"SEC_CODE":"510300"}]`, rec.Body.String())
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, service.QueryParams{SQLID: "X", Page: 2, PageSize: 20, StatDate: "2026-10-14", Cookie: "ba=1"}, got)
}

func TestProxyRouteFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"unparseable", &envelope.UnparseableError{Preview: "<html>"}, http.StatusBadGateway},
		{"exhausted", &fetcher.ExhaustedError{Attempts: 3, Last: fetcher.ErrUpstreamFault}, http.StatusBadGateway},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newServer(nil, nil, querierFunc(func(context.Context, service.QueryParams) (json.RawMessage, error) {
				return nil, tc.err
			}))
			rec := serve(t, s, http.MethodGet, "/sse-etf", nil)
			require.Equal(t, tc.code, rec.Code)
			require.JSONEq(t, `false`, jsonField(t, rec, "success"))
			require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestPreflightAndNotFound(t *testing.T) {
	s := newServer(nil, nil, nil)

	rec := serve(t, s, http.MethodOptions, "/sse-etf", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "Content-Type, x-forward-cookie", rec.Header().Get("Access-Control-Allow-Headers"))

	rec = serve(t, s, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Not Found", rec.Body.String())

	rec = serve(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func jsonField(t *testing.T, rec *httptest.ResponseRecorder, key string) string {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
	return string(fields[key])
}
