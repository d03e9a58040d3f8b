package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/models"
	"github.com/mmdatafocus/bilan_backend/workflow"
	"github.com/sirupsen/logrus"
)

// automation-sweep runs the automation engine once over every open or completed case.
// It is meant for a scheduler (Cloud Scheduler, cron); the service itself never sweeps.
//
// With --case-id only that case is analysed; --dry-run prints the actions without executing them.
func main() {
	caseID := flag.String("case-id", "", "Optional: only this case")
	dryRun := flag.Bool("dry-run", false, "If true, print the generated actions and do not execute them")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall deadline")
	flag.Parse()

	if !config.DatabaseConfigured() {
		fmt.Fprintln(os.Stderr, "DB_HOST and DB_NAME are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var notifier workflow.Notifier = workflow.NewLogNotifier(logger)
	if config.PubSubConfigured() {
		notifier = workflow.NewPubSubNotifier(logger)
		defer config.ClosePubSub()
	}
	engine := workflow.NewAutomationEngine(models.NewGormStore(db), notifier, config.LoadAutomationPolicy(), logger)

	var out any
	var err error
	switch {
	case *caseID != "" && *dryRun:
		var snap workflow.CaseStateSnapshot
		snap, err = engine.Analyze(ctx, *caseID)
		out = map[string]any{"snapshot": snap, "actions": engine.GenerateActions(snap)}
	case *caseID != "":
		var report workflow.ExecutionReport
		_, report, err = engine.Run(ctx, *caseID)
		out = report
	case *dryRun:
		fmt.Fprintln(os.Stderr, "--dry-run requires --case-id")
		os.Exit(1)
	default:
		out, err = engine.Sweep(ctx)
	}
	if err != nil {
		config.LogError(logger, "automation-sweep", "main", "running automation", *caseID, err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.WithFields(logrus.Fields{"field": "output"}).Error(err.Error())
	}
}
