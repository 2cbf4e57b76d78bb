package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/bowerhall/pawd/internal/agent"
	"github.com/bowerhall/pawd/internal/alerts"
	"github.com/bowerhall/pawd/internal/backend"
	"github.com/bowerhall/pawd/internal/bootstrap"
	"github.com/bowerhall/pawd/internal/budget"
	"github.com/bowerhall/pawd/internal/bus"
	"github.com/bowerhall/pawd/internal/channel"
	"github.com/bowerhall/pawd/internal/commands"
	"github.com/bowerhall/pawd/internal/config"
	"github.com/bowerhall/pawd/internal/health"
	"github.com/bowerhall/pawd/internal/llm"
	"github.com/bowerhall/pawd/internal/logger"
	"github.com/bowerhall/pawd/internal/memory"
	"github.com/bowerhall/pawd/internal/security"
	"github.com/bowerhall/pawd/internal/storage"
	"github.com/bowerhall/pawd/internal/tools"
	"github.com/bowerhall/pawd/internal/trigger"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal("failed to create data dir", "error", err)
	}

	store, err := memory.Open(cfg.MemoryPath)
	if err != nil {
		logger.Fatal("failed to open memory", "error", err)
	}
	defer store.Close()

	settings, err := config.LoadSettings(cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to load settings", "error", err)
	}

	extractor, err := llm.New(llm.Config{
		Provider: cfg.Extractor.Provider,
		APIKey:   cfg.Extractor.APIKey,
		Model:    cfg.Extractor.Model,
		BaseURL:  cfg.Extractor.BaseURL,
	})
	if err != nil {
		logger.Fatal("failed to create extractor", "error", err)
	}

	if cfg.Compaction.LLMSummarize {
		store.SetSummarizer(extractor)
	}

	var scanner *security.Scanner
	if cfg.InjectionScan {
		if cfg.DeepScanLLM {
			scanner = security.NewScanner(extractor)
		} else {
			scanner = security.NewScanner(nil)
		}
	}

	messageBus := bus.New()
	defer messageBus.Close()

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", "timezone", cfg.Timezone)
		tz = time.UTC
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = cfg.DataDir
	}
	outputDir := filepath.Join(home, ".pawd", "generated")

	triggerStore, err := trigger.NewStore(store.DB())
	if err != nil {
		logger.Fatal("failed to create trigger store", "error", err)
	}

	registry := tools.NewRegistry()
	tools.RegisterTimeTools(registry, tz)
	tools.RegisterHostTools(registry)
	tools.RegisterFileTools(registry, cfg.DataDir, outputDir)
	tools.RegisterFactTools(registry, store)
	tools.RegisterTriggerTools(registry, triggerStore)

	var storageClient *storage.Client
	if cfg.Storage.Enabled {
		storageClient, err = storage.NewClient(cfg.Storage)
		if err != nil {
			logger.Error("failed to create storage client", "error", err)
		} else {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := storageClient.Init(initCtx); err != nil {
				logger.Error("failed to init storage buckets", "error", err)
				storageClient = nil
			} else {
				tools.RegisterArchiveTools(registry, storageClient, cfg.DataDir)
				logger.Info("storage enabled", "endpoint", cfg.Storage.Endpoint)
			}
			cancel()
		}
	}

	router := backend.NewRouter(settings.AgentBackend, cfg.LLM.Provider)
	registerEngines(router, cfg, settings, registry)

	cmdHandler := commands.NewHandler(store, settings, router)
	cmdHandler.SetOnSettingsChanged(router.Reset)

	builder := bootstrap.NewBuilder(cfg, store)

	loop := agent.NewLoop(cfg, messageBus, store, builder, scanner, router, cmdHandler)

	errorLog, err := health.NewErrorLog(store.DB())
	if err != nil {
		logger.Error("failed to create error log", "error", err)
	} else {
		loop.SetErrorLog(errorLog)
	}

	if cfg.AutoLearn {
		loop.SetExtractor(extractor)
	}

	var alerter *alerts.Alerter
	if cfg.Alerts.Channel != "" && cfg.Alerts.ChatID != "" {
		alerter = alerts.New(messageBus, cfg.Alerts.Channel, cfg.Alerts.ChatID, 15*time.Minute)
	}

	if cfg.Budget.Enabled {
		tracker := budget.NewTracker(
			budget.Config{DailyLimit: cfg.Budget.DailyLimit, WarnAt: cfg.Budget.WarnAt, Timezone: tz},
			func(used, limit int) {
				if alerter != nil {
					alerter.Warn("budget", budgetMessage("approaching daily token limit", used, limit), nil)
				}
			},
			func(used, limit int) {
				if alerter != nil {
					alerter.Critical("budget", budgetMessage("daily token limit exceeded", used, limit), nil)
				}
			},
		)
		if usageStore, err := budget.NewStore(store.DB(), tz); err != nil {
			logger.Error("failed to create budget store", "error", err)
		} else {
			tracker.SetStore(usageStore)
		}
		loop.SetBudget(tracker)
		cmdHandler.SetBudget(tracker)
		logger.Info("budget enabled", "daily_limit", cfg.Budget.DailyLimit)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	adapters := buildAdapters(cfg, messageBus, loop, storageClient)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			if err := a.Start(gctx); err != nil && gctx.Err() == nil {
				logger.Error("adapter stopped", "channel", a.Name(), "error", err)
				return err
			}
			return nil
		})
	}

	runner := trigger.NewRunner(triggerStore, messageBus, tz)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})

	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})

	logger.Info("pawd started", "backends", router.Names(), "adapters", len(adapters))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("shutting down on error", "error", err)
	}
	logger.Info("pawd stopped")
}

// registerEngines wires one engine per provider that has credentials.
// The configured provider is always present; claude and openai join it
// when their keys are set, so /backend can switch between them.
func registerEngines(router *backend.Router, cfg *config.Config, settings *config.Settings, registry *tools.Registry) {
	register := func(name, provider, apiKey, baseURL, defaultModel string) {
		router.Register(name, func() (backend.Backend, error) {
			modelID := settings.Model(name)
			if modelID == "" {
				modelID = defaultModel
			}
			model, err := llm.New(llm.Config{
				Provider: provider,
				APIKey:   apiKey,
				Model:    modelID,
				BaseURL:  baseURL,
			})
			if err != nil {
				return nil, err
			}
			return backend.NewEngine(name, model, modelID, registry, settings.ToolProfile), nil
		})
	}

	register(cfg.LLM.Provider, cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)

	if cfg.LLM.Provider != "claude" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			register("claude", "claude", key, "", "")
		}
	}
	if cfg.LLM.Provider != "openai" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			register("openai", "openai", key, "", "")
		}
	}
}

// buildAdapters starts each configured chat surface. With no bot tokens
// the CLI adapter keeps the process usable locally.
func buildAdapters(cfg *config.Config, messageBus *bus.MessageBus, loop *agent.Loop, storageClient *storage.Client) []channel.Adapter {
	var adapters []channel.Adapter

	if cfg.Bots.Telegram.Enabled {
		inboxDir := filepath.Join(cfg.DataDir, "inbox")
		tg, err := channel.NewTelegram(cfg.Bots.Telegram.Token, messageBus, loop, storageClient, inboxDir)
		if err != nil {
			logger.Error("failed to create telegram adapter", "error", err)
		} else {
			adapters = append(adapters, tg)
		}
	}

	if cfg.Bots.Discord.Enabled {
		dc, err := channel.NewDiscord(cfg.Bots.Discord.Token, messageBus, loop, storageClient)
		if err != nil {
			logger.Error("failed to create discord adapter", "error", err)
		} else {
			adapters = append(adapters, dc)
		}
	}

	if len(adapters) == 0 {
		adapters = append(adapters, channel.NewCLI(messageBus, loop))
	}

	return adapters
}

func budgetMessage(prefix string, used, limit int) string {
	return fmt.Sprintf("%s: %d of %d tokens", prefix, used, limit)
}
