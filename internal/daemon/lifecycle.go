package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"firestige.xyz/netmon/internal/log"
	"firestige.xyz/netmon/internal/metrics"
	"firestige.xyz/netmon/internal/pipeline"
	"firestige.xyz/netmon/internal/transport"
)

// release closes everything Start created, in reverse order.
func (d *Daemon) release() {
	logger := log.GetLogger()
	d.cancel()

	if d.metricsServer != nil {
		logger.Info("stopping metrics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("error stopping metrics server")
		}
		cancel()
		d.metricsServer = nil
	}

	if d.source != nil {
		if err := d.source.Close(); err != nil {
			logger.WithError(err).Error("error closing capture")
		}
		d.source = nil
	}

	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			logger.WithError(err).Error("error closing output")
			d.closeErr = err
		}
		d.sink = nil
	}

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		logger.WithError(err).Error("error removing PID file")
	}
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		log.GetLogger().Debug("metrics server disabled")
		return nil
	}

	srv := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := srv.Register(metrics.NewCollector(d.group.CPUStats)); err != nil {
		return err
	}
	d.metricsServer = srv
	return srv.Start(d.ctx)
}

func (d *Daemon) reportStats(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.logStats("statistics")
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Daemon) logStats(msg string) {
	if d.group == nil {
		return
	}
	total := d.group.Total()
	log.GetLogger().WithFields(statsFields(total)).Info(msg)
}

func statsFields(s pipeline.Stats) map[string]interface{} {
	return map[string]interface{}{
		"received":     s.Received,
		"matched":      s.Matched,
		"discarded":    s.Discarded(),
		"unparsed":     s.Unparsed,
		"written":      s.Written,
		"write_errors": s.WriteErrors,
		"drops":        s.Drops,
	}
}

// Channel returns the capture channel, or nil before Start.
func (d *Daemon) Channel() transport.Channel {
	if d.source == nil {
		return nil
	}
	return d.source.Channel()
}

// Stats returns the per-CPU pipeline statistics.
func (d *Daemon) Stats() []pipeline.Stats {
	if d.group == nil {
		return nil
	}
	return d.group.Stats()
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	path := d.config.Daemon.PIDFile
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	log.GetLogger().WithField("path", path).WithField("pid", pid).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	path := d.config.Daemon.PIDFile
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}
