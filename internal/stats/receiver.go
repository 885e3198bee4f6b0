package stats

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hashpool/hashpool/pkg/log"
)

// Receiver terminates the snapshot TCP pipe and serves the last
// snapshot over HTTP. Last writer wins; there is no database and no
// cleanup task.
type Receiver struct {
	staleness time.Duration
	logger    *log.Logger

	mu        sync.RWMutex
	snapshot  []byte
	updatedAt time.Time
}

// NewReceiver creates a snapshot receiver
func NewReceiver(staleness time.Duration, logger *log.Logger) *Receiver {
	return &Receiver{
		staleness: staleness,
		logger:    logger.WithComponent("stats_receiver"),
	}
}

// ServeTCP accepts producer connections and ingests snapshot lines
// until ctx is cancelled.
func (r *Receiver) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.logger.LogConnection("producer_connected", conn.RemoteAddr().String())
		go r.ingest(conn)
	}
}

// ingest reads newline-delimited snapshots from one producer
func (r *Receiver) ingest(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stored := make([]byte, len(line))
		copy(stored, line)

		r.mu.Lock()
		r.snapshot = stored
		r.updatedAt = time.Now()
		r.mu.Unlock()
	}
	r.logger.LogConnection("producer_disconnected", conn.RemoteAddr().String())
}

// Last returns the stored snapshot and when it arrived
func (r *Receiver) Last() ([]byte, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot, r.updatedAt
}

// Stale reports whether the snapshot is older than the threshold
func (r *Receiver) Stale(now time.Time) bool {
	_, updatedAt := r.Last()
	return updatedAt.IsZero() || now.Sub(updatedAt) > r.staleness
}

// Router builds the HTTP surface: /api/stats and /health
func (r *Receiver) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/stats", func(c *gin.Context) {
		snapshot, _ := r.Last()
		if snapshot == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot received yet"})
			return
		}
		c.Data(http.StatusOK, "application/json", snapshot)
	})

	router.GET("/health", func(c *gin.Context) {
		if r.Stale(time.Now()) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stale"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
