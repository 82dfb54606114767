// Command diagkerneld is a minimal daemon exercising the Kernel
// Facade's full init -> run -> shutdown lifecycle: it loads
// configuration, wires the Facade against a connector, runs one
// diagnostic pass with the built-in catalog, and prints a summary of
// what it found.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CloudXploit/appcm-diagkernel/internal/config"
	"github.com/CloudXploit/appcm-diagkernel/pkg/builtin"
	"github.com/CloudXploit/appcm-diagkernel/pkg/connector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/connector/fakeconnector"
	"github.com/CloudXploit/appcm-diagkernel/pkg/diagtypes"
	"github.com/CloudXploit/appcm-diagkernel/pkg/eventbus"
	"github.com/CloudXploit/appcm-diagkernel/pkg/findingstore/memstore"
	"github.com/CloudXploit/appcm-diagkernel/pkg/kernel"
	"github.com/CloudXploit/appcm-diagkernel/pkg/snapshot"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML kernel configuration file (defaults are used if empty)")
	systemID := flag.String("system", "demo-system", "target system id to diagnose")
	watch := flag.Bool("watch", false, "after the initial pass, keep running scheduled rules until interrupted")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load configuration")
		}
		cfg = loaded
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	conn := fakeconnector.New()
	seedDemoData(conn)

	if health, err := conn.HealthCheck(context.Background()); err != nil {
		log.WithError(err).Fatal("connector health check failed")
	} else if health.Status != "healthy" {
		log.WithField("status", health.Status).Warn("connector is degraded, scanning anyway")
	}

	f := kernel.New(cfg, kernel.Deps{
		Connector: conn,
		Findings:  memstore.New(),
		VersionOf: func(ctx context.Context, systemID string) (string, error) { return "11.0", nil },
		Capturer:  snapshot.NewConnectorCapturer(conn),
		Log:       log,
	})
	if err := f.Init(); err != nil {
		log.WithError(err).Fatal("failed to initialize kernel facade")
	}
	defer f.Shutdown()

	done, unsub := f.Subscribe(eventbus.TopicScanCompleted)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Diagnostics.ScanTimeout.Duration())
	defer cancel()

	scan, err := f.RunDiagnostics(ctx, *systemID, diagtypes.ScanOptions{
		Categories:  []string{builtin.CategoryPerformance, builtin.CategoryConfiguration},
		TriggerKind: diagtypes.TriggerManual,
		TriggeredBy: "diagkerneld",
	})
	if err != nil {
		log.WithError(err).Fatal("failed to start diagnostics")
	}

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("scan did not complete before the configured timeout")
	}

	result, ok := f.GetScan(scan.ID)
	if !ok {
		log.Fatal("scan vanished after completion")
	}

	fmt.Printf("scan %s for system %s: status=%s progress=%d findings=%d (critical=%d high=%d medium=%d low=%d info=%d)\n",
		result.ID, result.SystemID, result.Status, result.Progress, result.CountsBySeverity.Total(),
		result.CountsBySeverity.Critical, result.CountsBySeverity.High, result.CountsBySeverity.Medium,
		result.CountsBySeverity.Low, result.CountsBySeverity.Info)

	if *watch {
		sched, err := f.NewScheduler([]string{*systemID}, 0)
		if err != nil {
			log.WithError(err).Fatal("failed to build scheduler")
		}
		sched.Start()
		defer sched.Stop()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		log.Info("watching scheduled rules, interrupt to stop")
		<-sigs
	}
}

// seedDemoData plants an overloaded node and a debug-enabled settings
// file so the demo scan has something to find.
func seedDemoData(conn *fakeconnector.FakeConnector) {
	conn.Results[builtin.CategoryPerformance] = []connector.Row{
		{"hostname": "node-1", "cpu_percent": 92, "memory_percent": 71, "pool_used_percent": 40, "cache_hit_ratio": 0.93},
	}
	conn.Results[builtin.CategoryConfiguration] = []connector.Row{
		{"path": "conf/server.xml", "debug_enabled": true, "session_timeout_seconds": 1800},
	}
}
