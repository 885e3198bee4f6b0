// Package web implements the dashboard services: thin HTTP caches that
// poll a stats receiver and serve the snapshot to browsers. They hold
// no state beyond the last fetched snapshot.
package web

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hashpool/hashpool/pkg/log"
)

// Service polls one stats receiver and serves its snapshot
type Service struct {
	statsURL     string
	pollInterval time.Duration
	client       *http.Client
	logger       *log.Logger

	mu        sync.RWMutex
	snapshot  []byte
	updatedAt time.Time
}

// New creates a dashboard service. statsURL is the receiver base URL.
func New(statsURL string, pollInterval, httpTimeout time.Duration, logger *log.Logger) *Service {
	return &Service{
		statsURL:     statsURL,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: httpTimeout},
		logger:       logger.WithComponent("web_dashboard"),
	}
}

// Run polls the receiver until ctx is cancelled. The first poll fires
// immediately so the dashboard is useful right after startup.
func (s *Service) Run(ctx context.Context) {
	s.poll(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Service) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statsURL+"/api/stats", nil)
	if err != nil {
		s.logger.WithError(err).Error("bad stats url")
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).Debug("stats receiver unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("stats receiver returned non-200", "status", resp.StatusCode)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		s.logger.WithError(err).Debug("stats read failed")
		return
	}

	s.mu.Lock()
	s.snapshot = data
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Last returns the cached snapshot and its fetch time
func (s *Service) Last() ([]byte, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.updatedAt
}

// Router builds the browser-facing HTTP surface
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/dashboard", func(c *gin.Context) {
		snapshot, _ := s.Last()
		if snapshot == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot available"})
			return
		}
		c.Data(http.StatusOK, "application/json", snapshot)
	})

	router.GET("/health", func(c *gin.Context) {
		_, updatedAt := s.Last()
		if updatedAt.IsZero() || time.Since(updatedAt) > 3*s.pollInterval {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stale"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
