package core

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Co-Epi/coepi-core/chain"
	"github.com/Co-Epi/coepi-core/crypto"
	"github.com/Co-Epi/coepi-core/distribution"
	"github.com/Co-Epi/coepi-core/match"
	"github.com/Co-Epi/coepi-core/protocol"
	"github.com/Co-Epi/coepi-core/reporting"
	"github.com/Co-Epi/coepi-core/store"
)

// Config carries everything Bootstrap needs.
type Config struct {
	// StoragePath is the directory for the durable local store.
	StoragePath string `yaml:"storage_path"`

	// ServiceURL is the base URL of the report distribution service.
	ServiceURL string `yaml:"service_url"`

	// LogLevel is the minimum level ("debug", "info", "warn", "error")
	// written to the process log and forwarded to log sinks.
	LogLevel string `yaml:"log_level"`

	// RestrictedMode limits log sink delivery to warnings and errors,
	// for hosts that surface core logs to end users.
	RestrictedMode bool `yaml:"restricted_mode"`

	// RequestTimeout bounds each HTTP call to the distribution service.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Trace overrides the protocol defaults when non-nil.
	Trace *protocol.TraceConfig `yaml:"trace"`
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Core is the assembled tracing engine. One Core owns the chain state of the
// process; hosts create exactly one per storage path.
type Core struct {
	cfg   *protocol.TraceConfig
	log   *slog.Logger
	store *store.Store

	engine       *chain.Engine
	observations *store.Observations
	batcher      *store.Batcher
	alerts       *store.Alerts
	prefs        *store.Preferences
	builder      *reporting.Builder
	client       *distribution.Client
	syncer       *distribution.Syncer

	logSinks   *dispatcher[sinkLogEntry]
	alertSinks *dispatcher[store.Alert]

	flushCancel context.CancelFunc
	flushDone   chan struct{}

	restricted bool
	now        func() time.Time
}

// observationFlushPeriod is how often batched radio observations are written
// to the durable store; Sync also flushes on demand before matching.
const observationFlushPeriod = 10 * time.Second

// Bootstrap opens the durable store and assembles the core. It fails closed:
// an unusable store is an error, never a silent fallback to in-memory state.
func Bootstrap(cfg Config) (*Core, error) {
	traceCfg := cfg.Trace
	if traceCfg == nil {
		traceCfg = protocol.DefaultTraceConfig()
	}
	if err := traceCfg.Validate(); err != nil {
		return nil, err
	}

	logSinks := newDispatcher[sinkLogEntry]()
	handler := &sinkLogHandler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}),
		logs:    logSinks,
	}
	log := slog.New(handler)

	db, err := store.Open(cfg.StoragePath)
	if err != nil {
		logSinks.close()
		return nil, err
	}

	prefs := store.NewPreferences(db)
	observations := store.NewObservations(db)
	alerts := store.NewAlerts(db)

	now := time.Now
	engine, err := chain.NewEngine(traceCfg, prefs, log, now())
	if err != nil {
		logSinks.close()
		_ = db.Close()
		return nil, err
	}

	accumulator, err := reporting.NewAccumulator(prefs)
	if err != nil {
		logSinks.close()
		_ = db.Close()
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := distribution.NewClient(cfg.ServiceURL, timeout)
	batcher := store.NewBatcher(observations)
	matcher := match.NewMatcher(traceCfg, observations, alerts, log)
	syncer := distribution.NewSyncer(traceCfg, client, matcher, prefs, observations, batcher, alerts, log)

	c := &Core{
		cfg:          traceCfg,
		log:          log,
		store:        db,
		engine:       engine,
		observations: observations,
		batcher:      batcher,
		alerts:       alerts,
		prefs:        prefs,
		builder:      reporting.NewBuilder(traceCfg, accumulator, engine, log),
		client:       client,
		syncer:       syncer,
		logSinks:     logSinks,
		alertSinks:   newDispatcher[store.Alert](),
		restricted:   cfg.RestrictedMode,
		now:          now,
	}

	flushCtx, flushCancel := context.WithCancel(context.Background())
	c.flushCancel = flushCancel
	c.flushDone = make(chan struct{})
	go c.flushLoop(flushCtx)

	log.Info("core bootstrapped", "storagePath", cfg.StoragePath)
	return c, nil
}

// flushLoop periodically writes batched observations to the durable store.
func (c *Core) flushLoop(ctx context.Context) {
	defer close(c.flushDone)
	ticker := time.NewTicker(observationFlushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.batcher.Flush(); err != nil {
				c.log.Error("observation batch flush failed", "err", err)
			}
		}
	}
}

// CurrentToken returns the token the device should broadcast right now,
// advancing the chain if a tick or epoch boundary has passed.
func (c *Core) CurrentToken() (crypto.Token, error) {
	return c.engine.CurrentToken(c.now())
}

// RecordObservedToken batches a token seen from a nearby device for the next
// flush. distance is in meters.
func (c *Core) RecordObservedToken(tokenBytes []byte, distance float64) error {
	token, err := crypto.NewTokenFromBytes(tokenBytes)
	if err != nil {
		return protocol.Validationf("token", "%s", err)
	}
	return c.batcher.Add(token, uint64(c.now().Unix()), distance)
}

// Sync runs one fetch-match-purge pass against the distribution service and
// delivers any new alerts to registered alert sinks.
func (c *Core) Sync(ctx context.Context) (distribution.SyncResult, error) {
	result, err := c.syncer.Run(ctx, c.now())
	if err != nil {
		return result, err
	}
	for _, alert := range result.NewAlerts {
		c.alertSinks.publish(alert)
	}
	return result, nil
}

// SyncLoop runs Sync every period until the context is cancelled, delivering
// new alerts to registered sinks after each run.
func (c *Core) SyncLoop(ctx context.Context, period time.Duration) {
	c.syncer.RunLoop(ctx, period, func(result distribution.SyncResult) {
		for _, alert := range result.NewAlerts {
			c.alertSinks.publish(alert)
		}
	})
}

// PostReport publishes an already-built signed report.
func (c *Core) PostReport(ctx context.Context, signed *protocol.SignedReport) error {
	return c.client.PostReport(ctx, signed)
}

// SubmitSymptoms builds a report from the accumulated symptoms and the
// disclosure window and posts it to the distribution service. The symptom
// accumulator is cleared only once the post succeeds; a network failure
// keeps the inputs so the user can retry.
func (c *Core) SubmitSymptoms(ctx context.Context) error {
	signed, err := c.builder.Submit(c.now())
	if err != nil {
		return err
	}
	if err := c.client.PostReport(ctx, signed); err != nil {
		return err
	}
	return c.builder.Accumulator().Clear()
}

// Symptom intake. Each setter validates its input and persists the updated
// accumulator; last write wins.

func (c *Core) SetSymptomIDs(ids []string) error {
	converted := make([]reporting.SymptomID, len(ids))
	for i, id := range ids {
		converted[i] = reporting.SymptomID(id)
	}
	return c.builder.Accumulator().SetSymptomIDs(converted)
}

func (c *Core) SetCoughType(coughType string) error {
	return c.builder.Accumulator().SetCoughType(coughType)
}

func (c *Core) SetCoughStatus(status string) error {
	return c.builder.Accumulator().SetCoughStatus(status)
}

func (c *Core) SetCoughDays(isSet bool, days uint16) error {
	return c.builder.Accumulator().SetCoughDays(isSet, days)
}

func (c *Core) SetBreathlessnessCause(cause string) error {
	return c.builder.Accumulator().SetBreathlessnessCause(cause)
}

func (c *Core) SetFeverDays(isSet bool, days uint16) error {
	return c.builder.Accumulator().SetFeverDays(isSet, days)
}

func (c *Core) SetFeverTakenTemperatureToday(isSet, taken bool) error {
	return c.builder.Accumulator().SetFeverTakenTemperatureToday(isSet, taken)
}

func (c *Core) SetFeverTakenTemperatureSpot(spot string) error {
	return c.builder.Accumulator().SetFeverTakenTemperatureSpot(spot)
}

func (c *Core) SetFeverHighestTemperatureTaken(isSet bool, temperature float64) error {
	return c.builder.Accumulator().SetFeverHighestTemperatureTaken(isSet, temperature)
}

func (c *Core) SetEarliestSymptomStartedDaysAgo(isSet bool, days uint16) error {
	return c.builder.Accumulator().SetEarliestSymptomStartedDaysAgo(isSet, days)
}

// ClearSymptoms resets the accumulator without submitting.
func (c *Core) ClearSymptoms() error {
	return c.builder.Accumulator().Clear()
}

// Alerts lists stored alerts, most recent first.
func (c *Core) Alerts() ([]store.Alert, error) {
	return c.alerts.List()
}

// DeleteAlert removes an alert by id. Deleted alerts do not reappear when
// the same report is processed again.
func (c *Core) DeleteAlert(id string) error {
	deleted, err := c.alerts.Delete(id)
	if err != nil {
		return err
	}
	if !deleted {
		return protocol.Validationf("id", "no alert with id %q", id)
	}
	return nil
}

// RegisterLogSink forwards log records to the sink asynchronously. In
// restricted mode only warnings and errors are delivered.
func (c *Core) RegisterLogSink(sink LogSink) {
	restricted := c.restricted
	c.logSinks.register(func(entry sinkLogEntry) {
		if restricted && entry.level < slog.LevelWarn {
			return
		}
		sink.Log(entry.level, entry.message)
	})
}

// RegisterAlertSink delivers newly matched alerts to the sink asynchronously.
func (c *Core) RegisterAlertSink(sink AlertSink) {
	c.alertSinks.register(func(alert store.Alert) {
		sink.Alert(alert)
	})
}

// Close flushes batched observations, stops sink delivery, and releases the
// durable store.
func (c *Core) Close() error {
	c.flushCancel()
	<-c.flushDone
	if _, err := c.batcher.Flush(); err != nil {
		c.log.Error("final observation flush failed", "err", err)
	}
	c.logSinks.close()
	c.alertSinks.close()
	return c.store.Close()
}
