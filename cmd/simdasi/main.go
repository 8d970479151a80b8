// Command simdasi extracts SIMDASI detail tables from the BPS web API and
// writes a wide and a long table per source into the configured warehouse.
//
// Usage:
//
//	simdasi -config configs/simdasi.yaml            # scheduled run, gated
//	simdasi -config configs/simdasi.yaml -force     # manual run
//	simdasi -config configs/simdasi.yaml -validate  # lint the config and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"simdasi/internal/config"
	"simdasi/internal/metrics"
	"simdasi/internal/schedule"

	// register all backends with the storage factory.
	_ "simdasi/internal/storage/all"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		lockPath          string
		runDateFlg        string
		validate          bool
		force             bool
	)

	flag.StringVar(&cfgPath, "config", "configs/simdasi.yaml", "pipeline config path (.json, .yaml or .yml)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend: none, prometheus or datadog (overrides config and METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides config and PUSHGATEWAY_URL)")
	flag.StringVar(&lockPath, "lock", filepath.Join(os.TempDir(), "simdasi.lock"), "run lock file; empty disables locking")
	flag.StringVar(&runDateFlg, "date", "", "logical run date YYYY-MM-DD used by the schedule gate (default today)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.BoolVar(&force, "force", false, "manual run: bypass the schedule gate")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	config.ApplyEnv(&p, os.LookupEnv)
	if metricsBackendFlg != "" {
		p.Metrics.Backend = metricsBackendFlg
	}
	if pushGatewayURLFlg != "" {
		p.Metrics.PushgatewayURL = pushGatewayURLFlg
	}
	config.ApplyDefaults(&p)

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	runDate, err := parseRunDate(runDateFlg, time.Now())
	if err != nil {
		fatalf("%v", err)
	}
	decision, err := schedule.Gate(p.Schedule.Gate, runDate, force)
	if err != nil {
		fatalf("%v", err)
	}
	if !decision.Proceed {
		log.Printf("skipping run: %s", decision.Reason)
		return
	}
	log.Printf("run proceeds: %s", decision.Reason)

	if lockPath != "" {
		lock, err := schedule.Acquire(lockPath)
		if errors.Is(err, schedule.ErrLocked) {
			log.Printf("another run holds %s; exiting", lockPath)
			return
		}
		if err != nil {
			fatalf("%v", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Printf("release lock: %v", err)
			}
		}()
	}

	flush := setupMetrics(p, *verbose)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	failed, err := run(ctx, p, *verbose, os.Stdout)
	if err != nil {
		log.Printf("%v", err)
		flush()
		os.Exit(1)
	}
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if failed > 0 {
		flush()
		os.Exit(1)
	}
}

// parseRunDate returns now when s is empty.
func parseRunDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

// setupMetrics installs the configured backend and returns an idempotent
// flush function. Backend failures degrade to the nop backend.
func setupMetrics(p config.Pipeline, verbose bool) func() {
	b, err := newMetricsBackend(p)
	if err != nil {
		log.Printf("metrics: %v; using nop", err)
		return func() {}
	}
	if b == nil {
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", p.Metrics.Backend)
		}
		return func() {}
	}
	log.Printf("metrics: backend=%v job_name=%v", p.Metrics.Backend, p.Job)
	metrics.SetBackend(b)

	flushed := false
	return func() {
		if flushed {
			return
		}
		flushed = true
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
