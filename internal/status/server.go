// Package status serves a read-mostly HTTP view of a running client.
package status

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/client"
	"github.com/aodjo/KakaoForge-sub001/internal/observability"
	"github.com/aodjo/KakaoForge-sub001/internal/rooms"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const shutdownGrace = 5 * time.Second

// Source is the client surface the status routes read from.
type Source interface {
	Status() client.Status
	Rooms() []rooms.Room
	Connect(ctx context.Context) error
	Disconnect()
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	source Source
	guard  auth.Validator
	router *gin.Engine
}

// New builds the router. A nil guard leaves every route open; otherwise
// everything except /health, /ready and /metrics needs a bearer token.
func New(id, addr string, corsOrigins []string, guard auth.Validator, source Source) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(observability.ComponentLogger(id)))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(corsOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		source:   source,
		guard:    guard,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.source.Status()
		code := http.StatusOK
		if st.State != client.StateConnected.String() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   code == http.StatusOK,
			"state":   st.State,
			"service": s.ID,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded := s.router.Group("/", s.requireToken())
	guarded.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Status())
	})
	guarded.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": roomViews(s.source.Rooms())})
	})
	guarded.POST("/connect", func(c *gin.Context) {
		if err := s.source.Connect(c.Request.Context()); err != nil {
			code := http.StatusBadGateway
			if errors.Is(err, client.ErrShutdown) {
				code = http.StatusConflict
			}
			c.JSON(code, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s.source.Status())
	})
	guarded.POST("/disconnect", func(c *gin.Context) {
		s.source.Disconnect()
		c.JSON(http.StatusOK, s.source.Status())
	})
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.guard == nil {
			c.Next()
			return
		}
		raw := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok {
			token = c.GetHeader("X-Status-Token")
		}
		if err := s.guard.Validate(strings.TrimSpace(token)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve listens on Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Msgf("status.Server.Serve listening addr=%s", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Msgf("status.Server.Serve shutdown err=%v", err)
		}
		return nil
	}
}

// RoomView is the JSON shape of one cached room. Ids are strings so
// consumers without 64-bit integers keep them exact.
type RoomView struct {
	ChatID        int64     `json:"chat_id,string"`
	Title         string    `json:"title"`
	Type          string    `json:"type,omitempty"`
	IsGroup       bool      `json:"is_group"`
	IsOpen        bool      `json:"is_open"`
	OpenLinkID    int64     `json:"open_link_id,string,omitempty"`
	LastLogID     int64     `json:"last_log_id,string"`
	LastSeenLogID int64     `json:"last_seen_log_id,string"`
	Members       int       `json:"members"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

func roomViews(list []rooms.Room) []RoomView {
	views := make([]RoomView, 0, len(list))
	for _, r := range list {
		views = append(views, RoomView{
			ChatID:        r.ChatID,
			Title:         r.Title,
			Type:          r.Type,
			IsGroup:       r.IsGroup,
			IsOpen:        r.IsOpen,
			OpenLinkID:    r.OpenLinkID,
			LastLogID:     r.LastLogID,
			LastSeenLogID: r.LastSeenLogID,
			Members:       len(r.MemberIDs),
			UpdatedAt:     r.UpdatedAt,
		})
	}
	return views
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return slices.Clone(origins)
}
