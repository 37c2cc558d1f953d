// Package statusapi serves a read-only HTTP view of VCU state.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dp-web4/modbatt-CAN/internal/bms"
	"github.com/dp-web4/modbatt-CAN/internal/link"
	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
	"github.com/dp-web4/modbatt-CAN/internal/observability"
	"github.com/dp-web4/modbatt-CAN/internal/protocol/transfer"
	"github.com/dp-web4/modbatt-CAN/internal/sequencer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Version = "0.1.0"

// Source is the state the API reads. The VCU service implements it.
type Source interface {
	Snapshot() bms.Snapshot
	Module(id uint8) (bms.Module, bool)
	Link() link.Status
	Sequence() sequencer.Status
	Stats() bms.Stats
	Transfers() []transfer.Entry
}

type Server struct {
	name    string
	addr    string
	src     Source
	router  *gin.Engine
	started time.Time
}

func New(name, addr string, corsOrigins []string, src Source) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.InitLogger(name)))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{name: name, addr: addr, src: src, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		ln := s.src.Link()
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.started).String(),
			"service":   s.name,
			"version":   Version,
			"connected": ln.Connected,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/pack", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pack":     s.src.Snapshot().Pack,
			"sequence": s.src.Sequence(),
			"stats":    s.src.Stats(),
		})
	})

	r.GET("/modules", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"modules": s.src.Snapshot().Modules})
	})

	r.GET("/modules/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 8)
		if err != nil || id >= bms.MaxModules {
			c.JSON(http.StatusBadRequest, gin.H{"error": "module id must be 0.." + strconv.Itoa(bms.MaxModules-1)})
			return
		}
		m, ok := s.src.Module(uint8(id))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "module not reported"})
			return
		}
		c.JSON(http.StatusOK, m)
	})

	r.GET("/link", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.src.Link())
	})

	r.GET("/transfers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"transfers": s.src.Transfers()})
	})
}

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("statusapi.Server.Serve listening addr=%s", s.addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
