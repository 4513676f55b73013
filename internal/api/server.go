package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"termpool/internal/pool"
	"termpool/internal/recorder"
)

// AccountHeader carries the authenticated caller. The front end that
// terminates authentication sets it; the server trusts it as given.
const AccountHeader = "X-Account"

// Server exposes the pool over HTTP.
type Server struct {
	pool     *pool.Pool
	recorder recorder.Recorder
	engine   *gin.Engine
}

// New builds the router. metrics may be nil.
func New(p *pool.Pool, rec recorder.Recorder, metrics http.Handler) *Server {
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	s := &Server{pool: p, recorder: rec, engine: r}

	v1 := r.Group("/v1")
	v1.GET("/round", s.getRound)
	v1.GET("/terms", s.getTerms)
	v1.GET("/owner", s.getOwner)
	v1.GET("/directory", s.getDirectory)
	v1.GET("/events", s.getEvents)
	v1.GET("/accounts/:account", s.getAccount)
	v1.GET("/asset/balances/:account", s.getBalance)

	member := v1.Group("", requireCaller())
	member.POST("/membership", s.payMembership)
	member.POST("/deposits", s.deposit)
	member.POST("/withdrawals", s.withdraw)
	member.POST("/asset/approve", s.approve)

	admin := v1.Group("/admin", requireCaller())
	admin.POST("/allowlist/:account", s.addToAllowList)
	admin.DELETE("/allowlist/:account", s.removeFromAllowList)
	admin.POST("/sweep", s.sweep)
	admin.POST("/dispersal", s.fundDispersal)
	admin.POST("/round-start", s.setRoundStart)
	admin.POST("/forfeit/:account", s.forfeit)
	admin.POST("/reset", s.reset)
	admin.POST("/terms", s.updateTerms)
	admin.POST("/recover", s.recoverFunds)
	admin.POST("/owner", s.transferOwnership)
	admin.POST("/mint", s.mint)

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("caller", c.GetHeader(AccountHeader)).
			Msg("request")
	}
}

func requireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(AccountHeader) == "" {
			badRequest(c, errors.New("missing "+AccountHeader+" header"))
			c.Abort()
			return
		}
		c.Next()
	}
}
