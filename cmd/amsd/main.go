// Command amsd is the daemon process: it wires the Vector Knowledge
// Graph, Episodic Memory, Associative Semantic Memory, Stream Monitor,
// Event Bus, Event Processor, Goal Adapter, and channel adapters into a
// single running agent, following the dependency order of spec §2.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/jbpayton/sophia-ams/internal/asm"
	"github.com/jbpayton/sophia-ams/internal/channels/discord"
	"github.com/jbpayton/sophia-ams/internal/channels/scheduler"
	"github.com/jbpayton/sophia-ams/internal/channels/stdin"
	"github.com/jbpayton/sophia-ams/internal/channels/telegram"
	"github.com/jbpayton/sophia-ams/internal/config"
	"github.com/jbpayton/sophia-ams/internal/embedding"
	"github.com/jbpayton/sophia-ams/internal/episodic"
	"github.com/jbpayton/sophia-ams/internal/eventbus"
	"github.com/jbpayton/sophia-ams/internal/eventprocessor"
	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/goaladapter"
	"github.com/jbpayton/sophia-ams/internal/llmclient"
	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/streammonitor"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

const version = "0.1.0"

// checkPidFile guards against a second instance running against the
// same state directory, following the teacher's cmd/bud/main.go
// checkPidFile but simplified to the daemon (non-interactive) branch
// only — amsd always runs as a managed service, never interactively.
func checkPidFile(statePath string) func() {
	log := logging.For("main")
	pidFile := filepath.Join(statePath, "amsd.pid")

	if data, err := os.ReadFile(pidFile); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if proc, err := process.NewProcess(int32(pid)); err == nil {
				if running, _ := proc.IsRunning(); running {
					name, _ := proc.Name()
					if strings.Contains(name, "amsd") {
						log.Warn().Int("pid", pid).Msg("killing existing amsd process")
						proc.Kill()
						time.Sleep(time.Second)
					}
				}
			}
		}
		os.Remove(pidFile)
	}

	myPID := os.Getpid()
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(myPID)), 0o644); err != nil {
		log.Warn().Err(err).Msg("failed to write pid file")
	}

	return func() { os.Remove(pidFile) }
}

func main() {
	logging.Init()
	log := logging.For("main")
	log.Info().Str("version", version).Msg("sophia-ams starting")

	configPath := os.Getenv("AMS_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := os.MkdirAll(cfg.StatePath, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to create state directory")
	}
	cleanup := checkPidFile(cfg.StatePath)
	defer cleanup()

	embedGen := embedding.NewOllamaClient(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dim)
	llm := llmclient.NewHTTPClient(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.APIKey)

	store, err := vkg.Open(cfg.StatePath, embedGen)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open VKG store")
	}
	defer store.Close()

	episodes, err := episodic.Open(cfg.StatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open episodic store")
	}
	defer episodes.Close()

	extractor := extract.NewAdapter(llm)
	memory := asm.New(store, extractor, llm, asm.Config{OwnerName: cfg.Agent.Name})

	goalCfg := goaladapter.Config{
		Enabled:             cfg.EventSources.GoalEngine.Enabled,
		CooldownSeconds:     cfg.EventSources.GoalEngine.CooldownSeconds,
		MaxConsecutiveGoals: cfg.EventSources.GoalEngine.MaxConsecutiveGoals,
		RestSeconds:         cfg.EventSources.GoalEngine.RestSeconds,
	}
	goals := goaladapter.New(memory, cfg.Agent.Name, goalCfg)

	monitor := streammonitor.New(memory, episodes, cfg.Agent.Name, cfg.Agent.UserName, goals, streammonitor.Config{
		AutoRecallLimit:        cfg.StreamMonitor.AutoRecallLimit,
		IdleSeconds:            cfg.StreamMonitor.IdleSeconds,
		EpisodeRotateThreshold: cfg.StreamMonitor.EpisodeRotateThreshold,
	})

	bus := eventbus.New()

	chat := func(ctx context.Context, sessionID, content string) (string, error) {
		recallContext := monitor.PreProcess(ctx, content, sessionID)

		messages := []llmclient.Message{{Role: "system", Content: systemPrompt(cfg.Agent.Name, recallContext)}}
		messages = append(messages, llmclient.Message{Role: "user", Content: content})

		response, err := llm.Chat(ctx, messages, llmclient.ChatOptions{Temperature: 0.7, MaxTokens: cfg.LLM.MaxTokens})
		if err != nil {
			return "", fmt.Errorf("sophia_chat: %w", err)
		}

		monitor.PostProcess(ctx, sessionID, content, response)
		return response, nil
	}

	processor := eventprocessor.New(bus, chat, goals, store, eventprocessor.Config{RateLimitPerHour: cfg.Agent.RateLimitPerHour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdinChannel := stdin.New(bus, "")
	stdinChannel.Start(ctx)
	processor.RegisterResponseHandler(stdin.SourceChannel, stdinChannel.ResponseHandler)

	if cfg.EventSources.Discord.Enabled {
		dc, err := discord.New(discord.Config{Enabled: true, Token: cfg.EventSources.Discord.Token}, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create discord channel")
		} else if err := dc.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start discord channel")
		} else {
			defer dc.Stop()
			processor.RegisterResponseHandler(discord.SourceChannel, dc.ResponseHandler)
		}
	}

	if cfg.EventSources.Telegram.Enabled {
		tc, err := telegram.New(telegram.Config{
			Enabled:        true,
			Token:          cfg.EventSources.Telegram.Token,
			AllowedChatIDs: cfg.EventSources.Telegram.AllowedChatIDs,
		}, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to create telegram channel")
		} else if err := tc.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to start telegram channel")
		} else {
			defer tc.Stop()
			processor.RegisterResponseHandler(telegram.SourceChannel, tc.ResponseHandler)
		}
	}

	if cfg.EventSources.Scheduler.Enabled {
		var jobs []scheduler.Job
		for _, j := range cfg.EventSources.Scheduler.Jobs {
			jobs = append(jobs, scheduler.Job{ID: j.ID, Prompt: j.Prompt, IntervalSeconds: j.IntervalSeconds, Cron: j.Cron})
		}
		sc := scheduler.New(jobs, bus)
		sc.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		bus.Put(eventbus.New(eventbus.TypeShutdown, nil, eventbus.PriorityCritical, "system"))
	}()

	log.Info().Msg("entering main event loop")
	if err := processor.Run(ctx); err != nil {
		log.Error().Err(err).Msg("event processor exited with error")
	}
	log.Info().Msg("sophia-ams shut down")
}

func systemPrompt(agentName, recallContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a long-running conversational agent with persistent memory.\n", agentName)
	if recallContext != "" {
		b.WriteString("\n")
		b.WriteString(recallContext)
	}
	return b.String()
}
