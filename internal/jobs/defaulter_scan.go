package jobs

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rollbook/attendance/internal/config"
	"rollbook/attendance/internal/report"
)

var defaultersBelowThreshold = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rollbook_defaulters_below_threshold",
	Help: "Students below the attendance threshold over the trailing scan window.",
})

// StartDefaulterScanJob periodically classifies the whole cohort over a
// trailing window and publishes the defaulter count as a gauge.
func StartDefaulterScanJob(ctx context.Context, cfg config.Config, engine *report.Engine) {
	if !cfg.DefaulterScanEnabled {
		return
	}
	interval := cfg.DefaulterScanInterval
	if interval <= 0 {
		interval = time.Hour
	}
	timeout := cfg.DefaulterScanTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	windowDays := cfg.DefaulterScanWindowDays
	if windowDays <= 0 {
		windowDays = 30
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
				from := to.AddDate(0, 0, -windowDays)

				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				rows, err := engine.Cohort(tickCtx, report.Query{From: from, To: to, Join: report.JoinOuter})
				cancel()
				if err != nil {
					log.Printf("defaulter scan error: %v", err)
					continue
				}

				defaulters := 0
				for _, row := range report.Classify(rows, cfg.DefaulterThreshold) {
					if row.IsDefaulter {
						defaulters++
					}
				}
				defaultersBelowThreshold.Set(float64(defaulters))
				if defaulters > 0 {
					log.Printf("defaulter scan found %d students below %.2f%%", defaulters, cfg.DefaulterThreshold)
				}
			}
		}
	}()
}
