package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"go-fleet/internal/fleet"
)

const (
	DefaultTimeout  = 5 * time.Second
	maxResponseSize = 64 * 1024
)

var (
	ErrorUnreachable = errors.New("worker unreachable")
	ErrorTimeout     = errors.New("worker timed out")
	ErrorTransport   = errors.New("transport error")
)

type Sender interface {
	Send(ctx context.Context, worker fleet.Worker, envelope Envelope) ([]byte, error)
}

// Client dials a new connection for every envelope and closes it after the
// first reply.
type Client struct {
	timeout time.Duration
	dialer  *net.Dialer
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{timeout, &net.Dialer{}}
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) Send(ctx context.Context, worker fleet.Worker, envelope Envelope) ([]byte, error) {
	payload, err := envelope.Encode()
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(timeoutCtx, "tcp", worker.HostPort())
	if err != nil {
		return nil, classify(worker, "dial", err, true)
	}
	defer conn.Close()

	deadline, _ := timeoutCtx.Deadline()
	if err = conn.SetDeadline(deadline); err != nil {
		return nil, classify(worker, "set deadline", err, false)
	}

	if _, err = conn.Write(payload); err != nil {
		return nil, classify(worker, "write", err, false)
	}

	buffer := make([]byte, maxResponseSize)
	n, err := conn.Read(buffer)
	if n == 0 && err != nil {
		return nil, classify(worker, "read", err, false)
	}

	log.WithFields(log.Fields{
		"worker": worker.Id,
		"bytes":  n,
	}).Debug("Received worker reply")
	return buffer[:n], nil
}

func classify(worker fleet.Worker, op string, err error, dialing bool) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %s %s: %v", ErrorTimeout, op, worker.Id, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s %s: %v", ErrorTimeout, op, worker.Id, err)
	case dialing, errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH):
		return fmt.Errorf("%w: %s %s: %v", ErrorUnreachable, op, worker.Id, err)
	default:
		return fmt.Errorf("%w: %s %s: %v", ErrorTransport, op, worker.Id, err)
	}
}
