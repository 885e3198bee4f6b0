package stats

import (
	"net"
	"sync"
	"time"

	"github.com/hashpool/hashpool/pkg/log"
)

// Client pushes newline-delimited JSON snapshots over a persistent TCP
// connection. A failed write drops the connection; the next Send
// redials. Sends are lossy: the producer never waits for the receiver.
type Client struct {
	addr         string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       *log.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewClient creates a snapshot push client
func NewClient(addr string, dialTimeout, writeTimeout time.Duration, logger *log.Logger) *Client {
	return &Client{
		addr:         addr,
		dialTimeout:  dialTimeout,
		writeTimeout: writeTimeout,
		logger:       logger.WithComponent("stats_client"),
	}
}

// Send writes one snapshot line, connecting if necessary. The line
// terminator is appended here; data must not contain newlines.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
		if err != nil {
			c.logger.WithError(err).Debug("stats receiver unreachable", "addr", c.addr)
			return
		}
		c.conn = conn
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.drop()
			return
		}
	}

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := c.conn.Write(line); err != nil {
		c.logger.WithError(err).Debug("snapshot write failed, dropping connection")
		c.drop()
	}
}

// drop closes the connection; caller holds the lock
func (c *Client) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close releases the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
}
