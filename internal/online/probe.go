// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package online

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/livefeed/internal/clock"
	xglog "github.com/ManuGH/livefeed/internal/log"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ProbeConfig configures a TCP reachability probe.
type ProbeConfig struct {
	Addr     string        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Probe is a Signal that dials Addr every Interval. One failed dial flips it
// offline; one successful dial flips it back.
type Probe struct {
	cfg    ProbeConfig
	clock  clock.Clock
	dial   DialFunc
	logger zerolog.Logger

	watchers watchers

	mu      sync.Mutex
	online  bool
	ctx     context.Context
	timer   clock.Handle
	stopped bool
	wg      sync.WaitGroup
}

// NewProbe returns a probe that starts out online. dial may be nil.
func NewProbe(cfg ProbeConfig, clk clock.Clock, dial DialFunc) (*Probe, error) {
	if cfg.Addr == "" {
		return nil, errors.New("online probe: addr is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultProbeTimeout
	}
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	return &Probe{
		cfg:    cfg,
		clock:  clk,
		dial:   dial,
		online: true,
		logger: xglog.WithComponent("online").With().Str("probe_addr", cfg.Addr).Logger(),
	}, nil
}

func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *Probe) Watch(fn func(bool)) func() { return p.watchers.add(fn) }

// Start schedules the first probe immediately.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.ctx != nil {
		return
	}
	p.ctx = ctx
	p.timer = p.clock.Schedule(0, p.check)
}

// Stop cancels the next probe and waits for a running one.
func (p *Probe) Stop() {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Probe) check() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	ctx := p.ctx
	p.mu.Unlock()
	defer p.wg.Done()

	dctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	conn, err := p.dial(dctx, "tcp", p.cfg.Addr)
	cancel()
	reachable := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	changed := p.online != reachable
	p.online = reachable
	p.timer = p.clock.Schedule(p.cfg.Interval, p.check)
	p.mu.Unlock()

	if !changed {
		return
	}
	if reachable {
		p.logger.Info().Str(xglog.FieldEvent, "online.up").Msg("network reachable again")
	} else {
		p.logger.Warn().Str(xglog.FieldEvent, "online.down").Err(err).Msg("network unreachable")
	}
	p.watchers.notify(reachable)
}
