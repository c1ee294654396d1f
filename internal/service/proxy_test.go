package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"feedsync/internal/gate"
)

func proxyDefaults() QueryParams {
	return QueryParams{
		SQLID:    "COMMON_SSE_ZQPZ_ETFZL_XXPL_ETFGM_SEARCH_L",
		Page:     1,
		PageSize: 1000,
		Referer:  "https://www.sse.com.cn/market/funddata/volumn/etfvolumn/",
	}
}

func newTestProxy(url string) *QueryProxy {
	deps := testDeps(gate.NewMemoryStore(), gate.CommitBeforePersist)
	return NewQueryProxy(deps, ProxyOptions{BaseURL: url, Defaults: proxyDefaults()})
}

func TestQueryProxyReturnsPageHelpData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sqlId") != "COMMON_SSE_ZQPZ_ETFZL_XXPL_ETFGM_SEARCH_L" || q.Get("pageHelp.pageSize") != "50" {
			t.Errorf("查询参数不正确: %s", r.URL.RawQuery)
		}
		if q.Get("STAT_DATE") != "2026-10-14" || q.Get("pageHelp.cacheSize") != "1" || q.Get("isPagination") != "true" {
			t.Errorf("分页参数不正确: %s", r.URL.RawQuery)
		}
		if r.Header.Get("Referer") != proxyDefaults().Referer || r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			t.Errorf("请求头不正确: %v", r.Header)
		}
		if r.Header.Get("Cookie") != "ba=1" {
			t.Errorf("应透传 cookie, 实际 %q", r.Header.Get("Cookie"))
		}
		callback := q.Get("jsonCallBack")
		if !strings.HasPrefix(callback, "jsonpCallback") {
			t.Errorf("回调名不正确: %s", callback)
		}
		_, _ = fmt.Fprintf(w, `%s({"pageHelp":{"pageNo":1,"data":[{"SEC_CODE":"510300","TOT_VOL":"123.4"}]}})`, callback)
	}))
	defer srv.Close()

	data, err := newTestProxy(srv.URL).Query(context.Background(), QueryParams{PageSize: 50, StatDate: "2026-10-14", Cookie: "ba=1"})
	require.NoError(t, err)
	require.JSONEq(t, `[{"SEC_CODE":"510300","TOT_VOL":"123.4"}]`, string(data))

	status, body := ProxyReply(data, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, data, body)
}

func TestQueryProxyParseFailureReply(t *testing.T) {
	page := strings.Repeat("x", 1500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, page)
	}))
	defer srv.Close()

	data, err := newTestProxy(srv.URL).Query(context.Background(), QueryParams{})
	status, body := ProxyReply(data, err)
	require.Equal(t, http.StatusBadGateway, status)

	failure, ok := body.(ProxyFailure)
	require.True(t, ok)
	require.False(t, failure.Success)
	require.Len(t, failure.RawPreview, 1000)
}

func TestQueryProxyExhaustedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "System Error")
	}))
	defer srv.Close()

	data, err := newTestProxy(srv.URL).Query(context.Background(), QueryParams{})
	status, body := ProxyReply(data, err)
	require.Equal(t, http.StatusBadGateway, status)

	raw, marshalErr := json.Marshal(body)
	require.NoError(t, marshalErr)
	require.Contains(t, string(raw), `"success":false`)
	require.Contains(t, string(raw), `"message":"upstream reported a transient fault: System Error"`)
}

func TestQueryProxyMissingDataIsInternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"result":[]}`)
	}))
	defer srv.Close()

	data, err := newTestProxy(srv.URL).Query(context.Background(), QueryParams{})
	require.ErrorIs(t, err, ErrMissingData)
	status, _ := ProxyReply(data, err)
	require.Equal(t, http.StatusInternalServerError, status)
}

func TestQueryProxyRegeneratesCallback(t *testing.T) {
	ms := int64(1_760_500_000_000)
	p := NewQueryProxy(Deps{Logger: zerolog.Nop()}, ProxyOptions{BaseURL: "https://query.sse.com.cn/commonQuery.do"})
	p.now = func() time.Time {
		ms += 7
		return time.UnixMilli(ms)
	}

	first, second := p.request(proxyDefaults()), p.request(proxyDefaults())
	require.Equal(t, "jsonpCallback7", first.Token)
	require.Equal(t, "jsonpCallback14", second.Token)
	require.Contains(t, first.URL, "jsonCallBack="+first.Token)
	require.Contains(t, first.URL, "_=1760500000007")
	require.Empty(t, first.Headers["Cookie"])
}
