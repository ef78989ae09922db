// Package telemetry provides setup for reporting gridslam stats through telemetry
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// SetupTelemetry sets up the development exporter so spans and stats of a session can be reported.
func SetupTelemetry(interval time.Duration) (perf.Exporter, error) {
	if interval <= 0 {
		interval = time.Second
	}
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: interval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}

	return exporter, nil
}
