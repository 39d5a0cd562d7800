// Package startup runs the one-time cold-start phase: provision model
// files, then wait for the generation server to come up. The outcome is
// an explicit state consumed by request handling, never a process crash;
// a degraded worker keeps serving and reports its reason per job.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

const defaultProbeInterval = 500 * time.Millisecond

// State is the result of the startup phase.
type State struct {
	Ready  bool
	Reason string
}

// HealthChecker probes the generation server.
type HealthChecker interface {
	CheckReady(ctx context.Context) bool
}

// ModelProvisioner makes required model files available.
type ModelProvisioner interface {
	Ensure(ctx context.Context) ([]string, error)
}

// Logger is the minimal logging surface the gate needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Gate.
type Options struct {
	Models        ModelProvisioner
	Server        HealthChecker
	ProbeInterval time.Duration
	Clock         clock.Clock
	Logger        Logger
}

// Gate sequences the startup phase.
type Gate struct {
	models        ModelProvisioner
	server        HealthChecker
	probeInterval time.Duration
	clock         clock.Clock
	logger        Logger
}

func NewGate(opts Options) *Gate {
	interval := opts.ProbeInterval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Gate{
		models:        opts.Models,
		server:        opts.Server,
		probeInterval: interval,
		clock:         clk,
		logger:        logger,
	}
}

// Run executes the startup phase: ensure models, then probe the server
// until it responds or serverTimeout elapses. Any failure degrades the
// worker with a reason instead of returning an error.
func (g *Gate) Run(ctx context.Context, serverTimeout time.Duration) State {
	if g.models != nil {
		actions, err := g.models.Ensure(ctx)
		for _, action := range actions {
			g.logger.Info("model", "action", action)
		}
		if err != nil {
			g.logger.Error("model setup failed", "error", err)
			return State{Reason: fmt.Sprintf("model setup failed: %v", err)}
		}
	}

	start := g.clock.Now()
	for {
		if g.server.CheckReady(ctx) {
			g.logger.Info("generation server ready", "elapsed", g.clock.Since(start).Round(time.Millisecond).String())
			return State{Ready: true}
		}
		if g.clock.Since(start) >= serverTimeout {
			g.logger.Error("generation server did not start", "timeout", serverTimeout.String())
			return State{Reason: fmt.Sprintf("generation server did not start within %s", serverTimeout)}
		}
		select {
		case <-ctx.Done():
			return State{Reason: fmt.Sprintf("startup cancelled: %v", ctx.Err())}
		case <-g.clock.After(g.probeInterval):
		}
	}
}
