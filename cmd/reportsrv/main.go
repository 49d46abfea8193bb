// Command reportsrv runs the report distribution service.
//
// The service is an interval-addressed mailbox for signed exposure reports:
// devices POST reports and poll them back by time bucket. It stores nothing
// about who observed whom.
//
// # Usage
//
//	go run ./cmd/reportsrv --config=reportsrv.yaml
//	go run ./cmd/reportsrv --addr=:8080 --in-memory
//
// # Configuration File
//
//	http_addr: ":8080"
//	log_level: "info"
//	postgres:
//	  host: localhost
//	  port: 5432
//	  user: coepi
//	  password: secret
//	  database: coepi
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Co-Epi/coepi-core/api/httpserver"
	"github.com/Co-Epi/coepi-core/cmd/common"
	"github.com/Co-Epi/coepi-core/server"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", "", "HTTP listen address (overrides config)")
		inMemory    = flag.Bool("in-memory", false, "Use the in-memory report store")
		enablePprof = flag.Bool("pprof", false, "Enable the pprof debugging API")
	)
	flag.Parse()

	cfg := common.DefaultConfig()
	if *configPath != "" {
		loaded, err := common.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *inMemory {
		cfg.InMemory = true
	}
	if *enablePprof {
		cfg.EnablePprof = true
	}

	log := common.NewLogger(cfg.LogLevel)

	var store server.ReportStore
	if cfg.InMemory {
		log.Warn("using in-memory report store, reports are lost on restart")
		store = server.NewInMemoryStore()
	} else {
		pg, err := server.NewPostgresStore(&cfg.Postgres)
		if err != nil {
			log.Error("opening postgres store", "err", err)
			os.Exit(1)
		}
		store = pg
	}

	httpCfg := &httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		EnablePprof:              cfg.EnablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}

	srv, err := server.New(httpCfg, cfg.TraceConfig(), store, log)
	if err != nil {
		log.Error("creating server", "err", err)
		os.Exit(1)
	}

	srv.RunInBackground()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if err := srv.Close(); err != nil {
		log.Error("shutdown", "err", err)
	}
}
