// Package telemetry installs the process-wide metrics sink.
package telemetry

import (
	"fmt"
	"time"

	"github.com/armon/go-metrics"
)

// Install routes go-metrics to an in-memory sink that keeps a minute of
// 10s intervals. Sending SIGUSR1 to the process dumps the sink to stderr.
// The returned stop function removes the signal handler.
func Install(service string) (*metrics.InmemSink, func(), error) {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)
	sig := metrics.DefaultInmemSignal(inm)

	cfg := metrics.DefaultConfig(service)
	cfg.EnableHostname = false
	if _, err := metrics.NewGlobal(cfg, inm); err != nil {
		sig.Stop()
		return nil, nil, fmt.Errorf("failed to install metrics: %w", err)
	}
	return inm, sig.Stop, nil
}
