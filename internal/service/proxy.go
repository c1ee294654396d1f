package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"feedsync/internal/envelope"
	"feedsync/internal/fetcher"
)

// ErrMissingData means the upstream object has no pageHelp.data member.
var ErrMissingData = errors.New("upstream response has no pageHelp.data")

// QueryParams are the pass-through parameters of one proxy request.
// Zero values fall back to ProxyOptions.Defaults.
type QueryParams struct {
	SQLID    string
	Page     int
	PageSize int
	StatDate string
	Referer  string
	Cookie   string
}

// ProxyOptions configure the SSE query proxy.
type ProxyOptions struct {
	BaseURL  string
	Defaults QueryParams
}

// QueryProxy fetches and decodes the upstream query service without persisting anything.
type QueryProxy struct {
	fetcher fetcher.Fetcher
	parser  *envelope.Parser
	opts    ProxyOptions
	logger  zerolog.Logger
	now     func() time.Time
}

// NewQueryProxy wires the proxy from the shared dependencies.
func NewQueryProxy(deps Deps, opts ProxyOptions) *QueryProxy {
	return &QueryProxy{
		fetcher: deps.Fetcher,
		parser:  deps.Parser,
		opts:    opts,
		logger:  deps.Logger.With().Str("component", "query_proxy").Str("source", SourceQueryProxy).Logger(),
		now:     deps.Now,
	}
}

func (p *QueryProxy) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *QueryProxy) resolve(params QueryParams) QueryParams {
	d := p.opts.Defaults
	if params.SQLID == "" {
		params.SQLID = d.SQLID
	}
	if params.Page <= 0 {
		params.Page = d.Page
	}
	if params.PageSize <= 0 {
		params.PageSize = d.PageSize
	}
	if params.Referer == "" {
		params.Referer = d.Referer
	}
	return params
}

// Query returns pageHelp.data of the upstream reply as raw JSON.
func (p *QueryProxy) Query(ctx context.Context, params QueryParams) (data json.RawMessage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().Interface("panic", rec).Msg("query proxy panicked")
			data, err = nil, fmt.Errorf("query proxy panic: %v", rec)
		}
	}()

	params = p.resolve(params)
	resp, err := p.fetcher.Fetch(ctx, func(int) fetcher.Request { return p.request(params) })
	if err != nil {
		return nil, err
	}

	env, err := p.parser.Parse(resp.Body, resp.Token)
	if err != nil {
		return nil, err
	}

	obj, _ := env.Value.(map[string]any)
	pageHelp, _ := obj["pageHelp"].(map[string]any)
	inner, ok := pageHelp["data"]
	if !ok {
		return nil, ErrMissingData
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("encode pageHelp.data: %w", err)
	}

	p.logger.Info().
		Str("sql_id", params.SQLID).
		Int("attempts", resp.Attempt).
		Str("strategy", env.Strategy).
		Msg("query proxied")
	return raw, nil
}

// request builds one attempt with a fresh timestamp and callback name.
func (p *QueryProxy) request(params QueryParams) fetcher.Request {
	ts := p.clock().UnixMilli()
	callback := "jsonpCallback" + strconv.FormatInt(ts%10000000, 10)
	page := strconv.Itoa(params.Page)

	q := url.Values{}
	q.Set("isPagination", "true")
	q.Set("pageHelp.pageSize", strconv.Itoa(params.PageSize))
	q.Set("pageHelp.pageNo", page)
	q.Set("pageHelp.beginPage", page)
	q.Set("pageHelp.cacheSize", "1")
	q.Set("pageHelp.endPage", page)
	q.Set("sqlId", params.SQLID)
	q.Set("STAT_DATE", params.StatDate)
	q.Set("jsonCallBack", callback)
	q.Set("_", strconv.FormatInt(ts, 10))

	headers := map[string]string{
		"Referer":          params.Referer,
		"Accept":           "*/*",
		"Accept-Language":  "zh-CN,zh;q=0.9",
		"X-Requested-With": "XMLHttpRequest",
	}
	if params.Cookie != "" {
		headers["Cookie"] = params.Cookie
	}

	return fetcher.Request{
		URL:     p.opts.BaseURL + "?" + q.Encode(),
		Headers: headers,
		Token:   callback,
	}
}

// ProxyFailure is the diagnostic body returned when a proxy request fails.
type ProxyFailure struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RawPreview string `json:"rawPreview,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ProxyReply maps the outcome of Query onto an HTTP status and JSON body.
func ProxyReply(data json.RawMessage, err error) (int, any) {
	if err == nil {
		return http.StatusOK, data
	}

	var (
		unparseable *envelope.UnparseableError
		exhausted   *fetcher.ExhaustedError
	)
	switch {
	case errors.As(err, &unparseable):
		return http.StatusBadGateway, ProxyFailure{
			Error:      "无法解析上交所返回内容（非标准 JSONP/JSON）",
			RawPreview: unparseable.Preview,
		}
	case errors.As(err, &exhausted):
		message := exhausted.Error()
		if exhausted.Last != nil {
			message = exhausted.Last.Error()
		}
		return http.StatusBadGateway, ProxyFailure{
			Error:   "请求上交所失败（重试耗尽）",
			Message: message,
		}
	default:
		return http.StatusInternalServerError, ProxyFailure{
			Error:   "代理内部错误",
			Message: err.Error(),
		}
	}
}
