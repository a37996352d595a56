package httpapi

import (
	"context"
	"net/http"
	"time"

	"ibbridge/internal/account"
	"ibbridge/internal/model"
	"ibbridge/internal/obs"
	"ibbridge/internal/position"
	"ibbridge/internal/supervisor"

	"github.com/gin-gonic/gin"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const _shutdownTimeout = 5 * time.Second

// Bridge is the part of the session the HTTP surface reads and drives.
type Bridge interface {
	State() supervisor.State
	Metrics() obs.Snapshot
	Positions() []position.Entry
	AccountCash(ctx context.Context, acct string) (decimal.Decimal, error)
	AccountValue(ctx context.Context, acct string) (decimal.Decimal, error)
	AccountValues(ctx context.Context, acct string) (map[string]map[string]account.Value, error)
	SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error)
	CancelOrder(ctx context.Context, id int64) error
	Order(id int64) (*model.Order, bool)
	LiveOrders() []*model.Order
	Notifications() []model.Notification
}

// Server exposes a bridge over HTTP.
type Server struct {
	bridge Bridge
	engine *gin.Engine
	srv    *http.Server
}

func NewServer(b Bridge, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logs.Debugf("http %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	})
	g.Use(gin.Recovery())

	s := &Server{bridge: b, engine: g}
	s.routes()
	s.srv = &http.Server{Addr: addr, Handler: g, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", s.metrics)
	s.engine.GET("/positions", s.positions)
	s.engine.GET("/account", s.account)
	s.engine.GET("/notifications", s.notifications)

	orders := s.engine.Group("/orders")
	{
		orders.GET("", s.liveOrders)
		orders.POST("", s.submitOrder)
		orders.GET("/:id", s.order)
		orders.DELETE("/:id", s.cancelOrder)
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("http listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http serve")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}
