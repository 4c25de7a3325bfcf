// Package tunnel starts the outbound remote-debugging tunnel on demand.
package tunnel

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"iotbox/boxd/internal/metrics"
)

const (
	Starting       = "starting"
	AlreadyRunning = "already running"
)

// Supervisor knows how to find and launch the tunnel process.
type Supervisor interface {
	Running(ctx context.Context) (bool, error)
	// Start launches the process and returns without waiting for it.
	Start(authToken string) error
}

// Result is the outcome of Enable. Message is what the operator sees.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Controller serializes the running check and the launch so that concurrent
// enables start at most one process.
type Controller struct {
	sup     Supervisor
	log     zerolog.Logger
	metrics *metrics.Metrics
	mu      sync.Mutex
}

func NewController(sup Supervisor, log zerolog.Logger, m *metrics.Metrics) *Controller {
	return &Controller{sup: sup, log: log.With().Str("component", "tunnel").Logger(), metrics: m}
}

// Enable starts the tunnel unless one is already running. There is no retry
// and no health check of the new process.
func (c *Controller) Enable(ctx context.Context, authToken string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	running, err := c.sup.Running(ctx)
	if err != nil {
		return Result{}, err
	}
	if running {
		return Result{Status: AlreadyRunning, Message: AlreadyRunning}, nil
	}
	if err := c.sup.Start(authToken); err != nil {
		return Result{}, err
	}
	c.metrics.TunnelStarted()
	c.log.Info().Msg("tunnel starting")
	return Result{Status: Starting, Message: Starting + " with " + authToken}, nil
}

// TCPArgs is the command line of an ngrok tcp tunnel to port.
func TCPArgs(authToken, logFile string, port int) []string {
	return []string{"tcp", "-authtoken", authToken, "-log", logFile, strconv.Itoa(port)}
}
