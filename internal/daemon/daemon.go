// Package daemon implements the monitor process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/netmon/internal/config"
	"firestige.xyz/netmon/internal/core"
	"firestige.xyz/netmon/internal/filter"
	"firestige.xyz/netmon/internal/log"
	"firestige.xyz/netmon/internal/metrics"
	"firestige.xyz/netmon/internal/pipeline"
	"firestige.xyz/netmon/internal/render"
	"firestige.xyz/netmon/internal/sink"
	"firestige.xyz/netmon/internal/source"
)

// Daemon wires capture, consumers and output for one run.
type Daemon struct {
	config *config.Config

	// Core components
	source        source.Source
	sink          sink.Sink
	group         *pipeline.Group
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	groupDone    chan struct{}
	groupErr     error
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
	stopErr      error
	closeErr     error
}

// New creates a new Daemon instance from a validated configuration.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", core.ErrConfigInvalid)
	}
	d := &Daemon{
		config:       cfg,
		groupDone:    make(chan struct{}),
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all components. On failure everything
// started so far is released.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := log.Init(d.config.Log); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := log.GetLogger()
	logger.WithFields(map[string]interface{}{
		"backend": d.config.Capture.Backend,
		"iface":   d.config.Capture.Interface,
		"filter":  d.config.FilterSpec().String(),
		"mode":    d.config.Mode().String(),
		"output":  d.config.Output.Type,
	}).Info("starting netmon")

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return err
	}

	if err := d.startComponents(); err != nil {
		d.release()
		return err
	}

	logger.Info("netmon started")
	return nil
}

func (d *Daemon) startComponents() error {
	// 3. Open the output sink
	out, err := sink.New(d.config.Output)
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	d.sink = out

	// 4. Attach the capture source
	src, err := source.New(d.config)
	if err != nil {
		return err
	}
	d.source = src
	if err := src.Start(d.ctx); err != nil {
		return err
	}

	// 5. Start one pipeline per CPU
	d.group = pipeline.NewGroup(src.Channel(), pipeline.NewBuilder().
		WithFilter(filter.New(d.config.FilterSpec())).
		WithRenderer(render.New(d.config.Mode())).
		WithSink(out))
	go func() {
		d.groupErr = d.group.Run(d.ctx)
		close(d.groupDone)
	}()

	// 6. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 7. Periodic statistics
	if interval := d.config.Daemon.StatsInterval; interval > 0 {
		go d.reportStats(interval)
	}
	return nil
}

// Run blocks until shutdown is triggered and returns the error that ended
// the run. Shutdown is triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. the pipelines ending on their own (output failure, end of a replay)
//  3. TriggerShutdown
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT)

	logger := log.GetLogger()
	select {
	case sig := <-d.sigChan:
		logger.WithField("signal", sig.String()).Info("received shutdown signal")
	case <-d.groupDone:
		if d.groupErr != nil {
			logger.WithError(d.groupErr).Error("pipelines stopped")
		} else {
			logger.Info("capture finished")
		}
	case <-d.shutdownChan:
		logger.Info("shutdown requested")
	}
	return d.Stop()
}

// TriggerShutdown makes Run return after an orderly stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Stop performs the orderly shutdown. It is safe to call more than once and
// returns the same result each time.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() { d.stopErr = d.stop() })
	return d.stopErr
}

func (d *Daemon) stop() error {
	logger := log.GetLogger()
	if d.group == nil {
		d.release()
		return nil
	}
	logger.Info("initiating graceful shutdown")

	// 1. Detach the probe so no new events are produced
	if err := d.source.Detach(); err != nil {
		logger.WithError(err).Error("error detaching capture")
	}

	// 2. Drain what is buffered through the pipelines
	start := time.Now()
	d.source.Channel().Drain()
	timeout := d.config.Daemon.ShutdownTimeout
	if !d.waitPipelines(timeout) {
		logger.WithField("timeout", timeout.String()).Warn("drain timed out, discarding buffered events")
		d.cancel()
		if !d.waitPipelines(timeout) {
			logger.Error("pipelines did not stop")
		}
	}
	metrics.ShutdownDrainSeconds.Observe(time.Since(start).Seconds())

	// 3. Cancel context to signal all goroutines
	d.cancel()

	d.logStats("final statistics")
	d.release()

	var err error
	select {
	case <-d.groupDone:
		err = d.groupErr
	default:
	}
	if err == nil {
		err = d.closeErr
	}
	if errors.Is(err, core.ErrOutput) {
		metrics.OutputErrorsTotal.WithLabelValues(d.config.Output.Type).Inc()
	}

	logger.Info("netmon stopped")
	return err
}

func (d *Daemon) waitPipelines(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.groupDone:
		return true
	case <-t.C:
		return false
	}
}
