// Package admin exposes an HTTP view of a running kvd: health, metrics,
// counters, recent drops and direct key access through the dispatcher.
package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/udpkv/internal/dispatch"
	"github.com/danmuck/udpkv/internal/observability"
	"github.com/danmuck/udpkv/internal/protocol"
	"github.com/danmuck/udpkv/internal/server"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	version      = "0.1.0"
	defaultLimit = 20
	maxLimit     = 4096
)

type Admin struct {
	Name     string
	Addr     string
	Appeared time.Time

	srv    *server.Server
	router *gin.Engine
}

func New(name, addr string, corsOrigins []string, srv *server.Server) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequests(name, log.With().Str("component", "admin").Logger()))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "PUT"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		srv:      srv,
		router:   r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"service": a.Name,
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		addr := a.srv.LocalAddr()
		if addr == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "service": a.Name})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"udp":     addr.String(),
			"service": a.Name,
			"version": version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"datagrams": a.srv.Stats(),
			"store":     a.dispatcher().Stats(),
		})
	})

	a.router.GET("/drops", func(c *gin.Context) {
		limit, ok := queryInt(c, "limit", defaultLimit)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"drops": a.srv.RecentDrops(limit)})
	})

	a.router.GET("/keys", func(c *gin.Context) {
		offset, ok := queryInt(c, "offset", 0)
		if !ok {
			return
		}
		limit, ok := queryInt(c, "limit", defaultLimit)
		if !ok {
			return
		}
		if limit > maxLimit {
			limit = maxLimit
		}
		c.JSON(http.StatusOK, gin.H{
			"capacity": a.dispatcher().Capacity(),
			"entries":  a.dispatcher().Snapshot(offset, limit),
		})
	})

	a.router.GET("/keys/:key", func(c *gin.Context) {
		key, ok := parseKey(c)
		if !ok {
			return
		}
		observability.TagCommand(c, protocol.OpRead.String(), key)
		resp, err := a.dispatcher().Dispatch(protocol.Read{Key: key})
		if err != nil {
			writeDispatchError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"key": key, "value": resp.Value})
	})

	a.router.PUT("/keys/:key", func(c *gin.Context) {
		key, ok := parseKey(c)
		if !ok {
			return
		}
		observability.TagCommand(c, protocol.OpWrite.String(), key)
		var body struct {
			Value *int32 `json:"value"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Value == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"value\": <int32>}"})
			return
		}
		if _, err := a.dispatcher().Dispatch(protocol.Write{Key: key, Value: *body.Value}); err != nil {
			writeDispatchError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "key": key, "value": *body.Value})
	})
}

// Serve blocks serving the admin router on Addr until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("service", a.Name).Str("addr", a.Addr).Msg("admin listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (a *Admin) dispatcher() *dispatch.Dispatcher {
	return a.srv.Dispatcher()
}

func parseKey(c *gin.Context) (uint32, bool) {
	raw := c.Param("key")
	key, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key: " + raw})
		return 0, false
	}
	return uint32(key), true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name + ": " + raw})
		return 0, false
	}
	return v, true
}

func writeDispatchError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, dispatch.ErrKeyOutOfRange) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
