package supervisor

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Prober waits for a freshly spawned server to accept connections.
type Prober interface {
	Ready(ctx context.Context, port int) error
}

// TCPProber polls a TCP port until a dial succeeds.
type TCPProber struct {
	Host     string
	Interval time.Duration
	Timeout  time.Duration
}

// Ready implements Prober.
func (p *TCPProber) Ready(ctx context.Context, port int) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var dialer net.Dialer
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, interval)
		conn, err := dialer.DialContext(attemptCtx, "tcp", addr)
		cancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("port %d not ready: %w", port, ctx.Err())
		case <-ticker.C:
		}
	}
}
