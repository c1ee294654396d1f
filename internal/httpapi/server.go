// Package httpapi exposes source runs and the query proxy over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"feedsync/internal/config"
	"feedsync/internal/service"
	"feedsync/internal/version"
)

// Querier answers proxy requests.
type Querier interface {
	Query(ctx context.Context, params service.QueryParams) (json.RawMessage, error)
}

// Server is the gin-based HTTP trigger.
type Server struct {
	cfg          config.ServerConfig
	cookieHeader string
	quotes       service.Runner
	news         service.Runner
	proxy        Querier
	logger       zerolog.Logger
}

// NewServer wires the handlers. cookieHeader names the request header whose value
// is forwarded upstream as Cookie.
func NewServer(cfg config.ServerConfig, cookieHeader string, quotes, news service.Runner, proxy Querier, logger zerolog.Logger) *Server {
	if cookieHeader == "" {
		cookieHeader = "x-forward-cookie"
	}
	return &Server{
		cfg:          cfg,
		cookieHeader: cookieHeader,
		quotes:       quotes,
		news:         news,
		proxy:        proxy,
		logger:       logger.With().Str("component", "http").Logger(),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler builds the router.
func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	})
	router.GET("/scrapy-etf", s.runHandler(s.quotes))
	router.GET("/news", s.runHandler(s.news))
	router.GET("/sse-etf", s.proxyHandler)
	router.OPTIONS("/sse-etf", func(c *gin.Context) {
		setCORS(c)
		c.Status(http.StatusNoContent)
	})

	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
	return router
}

func (s *Server) runHandler(runner service.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		if runner == nil {
			c.String(http.StatusNotFound, "Not Found")
			return
		}
		res := runner.Run(c.Request.Context())
		status := http.StatusOK
		if res.Failed() {
			status = http.StatusInternalServerError
		}
		c.JSON(status, res)
	}
}

func (s *Server) proxyHandler(c *gin.Context) {
	setCORS(c)
	if s.proxy == nil {
		c.String(http.StatusNotFound, "Not Found")
		return
	}

	params := service.QueryParams{
		SQLID:    c.Query("sqlId"),
		Page:     atoi(c.Query("page")),
		PageSize: atoi(c.Query("pageSize")),
		StatDate: c.Query("STAT_DATE"),
		Referer:  c.Query("referer"),
		Cookie:   c.GetHeader(s.cookieHeader),
	}

	data, err := s.proxy.Query(c.Request.Context(), params)
	status, body := service.ProxyReply(data, err)
	if err != nil {
		s.logger.Warn().Err(err).Int("status", status).Msg("proxy request failed")
		c.JSON(status, body)
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}

func setCORS(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, x-forward-cookie")
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request served")
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
