// Command tracectl drives a local tracing core against a running report
// distribution service, for demos and manual testing.
//
// # Commands
//
// token: print the token the device would broadcast right now.
//
//	tracectl token
//
// observe: record a token seen from another device.
//
//	tracectl observe --token=<hex> --distance=1.5
//
// report: submit a symptom report revealing the disclosure window.
//
//	tracectl report --cough-days=3
//
// sync: fetch new reports, match them, and print any alerts.
//
//	tracectl sync
//
// watch: sync periodically, printing alerts as they arrive.
//
//	tracectl watch --period=1m
//
// alerts: list stored alerts.
//
//	tracectl alerts
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/Co-Epi/coepi-core/cmd/common"
	"github.com/Co-Epi/coepi-core/core"
	"github.com/Co-Epi/coepi-core/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "token":
		err = runToken(args)
	case "observe":
		err = runObserve(args)
	case "report":
		err = runReport(args)
	case "sync":
		err = runSync(args)
	case "watch":
		err = runWatch(args)
	case "alerts":
		err = runAlerts(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		color.Red("Unknown command: %s", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tracectl <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  token     Print the current broadcast token")
	fmt.Println("  observe   Record a token seen from another device")
	fmt.Println("  report    Submit a symptom report")
	fmt.Println("  sync      Fetch and match new reports")
	fmt.Println("  watch     Sync periodically, printing alerts as they arrive")
	fmt.Println("  alerts    List stored alerts")
}

// bootstrapCore parses the shared flags and opens the device core.
func bootstrapCore(fs *flag.FlagSet, args []string) (*core.Core, error) {
	configPath := fs.String("config", "", "Path to YAML config file")
	storagePath := fs.String("storage", "", "Storage directory (overrides config)")
	serviceURL := fs.String("service", "", "Report service URL (overrides config)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := common.DefaultConfig()
	if *configPath != "" {
		loaded, err := common.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *storagePath != "" {
		cfg.Device.StoragePath = *storagePath
	}
	if *serviceURL != "" {
		cfg.Device.ServiceURL = *serviceURL
	}
	cfg.Device.Trace = cfg.Trace

	return core.Bootstrap(cfg.Device)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	c, err := bootstrapCore(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	token, err := c.CurrentToken()
	if err != nil {
		return err
	}
	color.Green("Current token: %s", token.String())
	return nil
}

func runObserve(args []string) error {
	fs := flag.NewFlagSet("observe", flag.ExitOnError)
	tokenHex := fs.String("token", "", "Observed token (hex)")
	distance := fs.Float64("distance", 1.0, "Estimated distance in meters")
	c, err := bootstrapCore(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	raw, err := hex.DecodeString(*tokenHex)
	if err != nil {
		return fmt.Errorf("invalid token hex: %w", err)
	}
	if err := c.RecordObservedToken(raw, *distance); err != nil {
		return err
	}
	color.Green("Observation recorded")
	return nil
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	coughDays := fs.Uint("cough-days", 0, "Days the cough has lasted (0 = not set)")
	feverDays := fs.Uint("fever-days", 0, "Days the fever has lasted (0 = not set)")
	temperature := fs.Float64("temperature", 0, "Highest temperature taken, °F (0 = not set)")
	c, err := bootstrapCore(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	if *coughDays > 0 {
		if err := c.SetCoughDays(true, uint16(*coughDays)); err != nil {
			return err
		}
	}
	if *feverDays > 0 {
		if err := c.SetFeverDays(true, uint16(*feverDays)); err != nil {
			return err
		}
	}
	if *temperature > 0 {
		if err := c.SetFeverHighestTemperatureTaken(true, *temperature); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := c.SubmitSymptoms(ctx); err != nil {
		return err
	}
	color.Green("Report submitted")
	return nil
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	c, err := bootstrapCore(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	result, err := c.Sync(ctx)
	if err != nil {
		return err
	}

	color.White("Fetched %d intervals, processed %d reports", result.IntervalsFetched, result.ReportsProcessed)
	if result.AlertsCreated > 0 {
		color.Yellow("New exposure alerts: %d", result.AlertsCreated)
	} else {
		color.Green("No new exposures")
	}
	return nil
}

// alertPrinter prints alerts delivered asynchronously by the watch loop.
type alertPrinter struct{}

func (alertPrinter) Alert(alert store.Alert) {
	printAlert(alert)
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	period := fs.Duration("period", time.Minute, "Time between sync runs")
	c, err := bootstrapCore(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	c.RegisterAlertSink(alertPrinter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.White("Syncing every %s, ctrl-c to stop", *period)
	c.SyncLoop(ctx, *period)
	return nil
}

func runAlerts(args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	c, err := bootstrapCore(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	alerts, err := c.Alerts()
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		color.Green("No alerts")
		return nil
	}

	for _, alert := range alerts {
		printAlert(alert)
	}
	return nil
}

func printAlert(alert store.Alert) {
	color.Yellow("Alert %s", alert.ID)
	color.White("  token:        %s", alert.MatchedToken.String())
	color.White("  first seen:   %s", time.Unix(int64(alert.Observation.FirstSeen), 0).Format(time.RFC3339))
	color.White("  last seen:    %s", time.Unix(int64(alert.Observation.LastSeen), 0).Format(time.RFC3339))
	color.White("  min distance: %.1f m", alert.Observation.MinDistance)
	if alert.Symptoms != nil {
		color.White("  symptoms:     %s", alert.Symptoms.Summary())
	} else {
		color.White("  symptoms:     none disclosed")
	}
}
