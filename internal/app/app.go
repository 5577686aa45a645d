// Package app wires the agent components together: gateway provider,
// tool registry, reasoning loop, subagent manager, scheduler, and
// delivery channels.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	agentctx "github.com/mozhuanzuojing/CountBot/internal/agent/context"
	"github.com/mozhuanzuojing/CountBot/internal/agent/loop"
	"github.com/mozhuanzuojing/CountBot/internal/agent/session"
	"github.com/mozhuanzuojing/CountBot/internal/agent/subagent"
	"github.com/mozhuanzuojing/CountBot/internal/channels"
	"github.com/mozhuanzuojing/CountBot/internal/cleanup"
	"github.com/mozhuanzuojing/CountBot/internal/channels/telegram"
	"github.com/mozhuanzuojing/CountBot/internal/config"
	"github.com/mozhuanzuojing/CountBot/internal/cron"
	"github.com/mozhuanzuojing/CountBot/internal/llm"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
	"github.com/mozhuanzuojing/CountBot/internal/tools"
	"github.com/mozhuanzuojing/CountBot/internal/tools/fetch"
	"github.com/mozhuanzuojing/CountBot/internal/workspace"
)

// App is the composed application.
type App struct {
	cfg      *config.Config
	logger   *logger.Logger
	provider llm.Provider
	registry *tools.Registry
	loop     *loop.Loop
	context  *agentctx.Builder
	subagent *subagent.Manager

	workspace *workspace.Workspace
	sessions  *session.Store
	janitor   *cleanup.Runner

	store     *cron.Store
	scheduler *cron.Scheduler
	router    *channels.Router

	cronTool  *tools.CronTool
	spawnTool *tools.SpawnTool

	metricsReg prometheus.Registerer
}

// Option overrides a wiring default, used by tests and the CLI.
type Option func(*App)

// WithProvider substitutes the gateway provider.
func WithProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithMetricsRegistry substitutes the prometheus registry.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(a *App) { a.metricsReg = reg }
}

// New builds the application from configuration. Nothing is started;
// call Start for the long-running parts.
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: log, metricsReg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(a)
	}

	if a.provider == nil {
		a.provider = llm.NewZAIProvider(llm.ZAIConfig{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.Agent.Model,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}, log)
	}

	ws, err := workspace.New(cfg.Workspace.Path)
	if err != nil {
		return nil, err
	}
	if err := ws.Ensure(); err != nil {
		return nil, err
	}
	a.workspace = ws

	sessions, err := session.NewStore(ws.SessionsDir())
	if err != nil {
		return nil, err
	}
	a.sessions = sessions

	if err := a.buildTools(); err != nil {
		return nil, err
	}
	if err := a.buildLoop(); err != nil {
		return nil, err
	}
	if err := a.buildSubagent(); err != nil {
		return nil, err
	}
	if err := a.buildScheduler(); err != nil {
		return nil, err
	}
	if err := a.buildContext(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *App) buildTools() error {
	a.registry = tools.NewRegistry()

	if err := a.registry.Register(tools.NewSystemTimeTool()); err != nil {
		return fmt.Errorf("failed to register system_time tool: %w", err)
	}

	if a.cfg.Tools.Fetch.Enabled {
		fetchCfg := fetch.DefaultConfig()
		fetchCfg.TimeoutSeconds = a.cfg.Tools.Fetch.TimeoutSeconds
		fetchCfg.MaxResponseSize = a.cfg.Tools.Fetch.MaxResponseSize
		if a.cfg.Tools.Fetch.UserAgent != "" {
			fetchCfg.UserAgent = a.cfg.Tools.Fetch.UserAgent
		}
		if err := a.registry.Register(fetch.NewFetchTool(fetchCfg, a.logger)); err != nil {
			return fmt.Errorf("failed to register web_fetch tool: %w", err)
		}
	}

	return nil
}

func (a *App) buildLoop() error {
	l, err := loop.NewLoop(a.provider, a.registry, a.logger, loop.Config{
		Model:          a.cfg.Agent.Model,
		Temperature:    a.cfg.Agent.Temperature,
		MaxTokens:      a.cfg.Agent.MaxTokens,
		MaxIterations:  a.cfg.Agent.MaxIterations,
		ToolRetries:    a.cfg.Agent.ToolRetries,
		ToolRetryDelay: time.Duration(a.cfg.Agent.ToolRetryDelaySec) * time.Second,
		ToolTimeout:    time.Duration(a.cfg.Agent.ToolTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to build reasoning loop: %w", err)
	}
	l.SetTranscriptSink(a.sessions)
	a.loop = l
	return nil
}

func (a *App) buildSubagent() error {
	if !a.cfg.Subagent.Enabled {
		return nil
	}

	manager, err := subagent.NewManager(a.provider, a.registry, a.logger, subagent.Config{
		MaxIterations:   a.cfg.Subagent.MaxIterations,
		RestrictedTools: a.cfg.Subagent.RestrictedTools,
	})
	if err != nil {
		return fmt.Errorf("failed to build subagent manager: %w", err)
	}
	a.subagent = manager

	a.spawnTool = tools.NewSpawnTool(manager, a.logger)
	if err := a.registry.Register(a.spawnTool); err != nil {
		return fmt.Errorf("failed to register spawn tool: %w", err)
	}
	return nil
}

func (a *App) buildScheduler() error {
	if !a.cfg.Scheduler.Enabled {
		return nil
	}

	store, err := cron.NewStore(a.cfg.JobsDB(), a.logger)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	a.store = store

	a.router = channels.NewRouter()
	if a.cfg.Channels.Telegram.Enabled {
		sink, err := telegram.New(telegram.Config{
			Enabled:     true,
			Token:       a.cfg.Channels.Telegram.Token,
			SendTimeout: time.Duration(a.cfg.Channels.Telegram.SendTimeoutSeconds) * time.Second,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to build telegram channel: %w", err)
		}
		a.router.Register("telegram", sink)
	}

	scheduler, err := cron.NewScheduler(
		store,
		cron.NewLoopExecutor(a.loop),
		a.router,
		a.logger,
		cron.NewMetrics(a.metricsReg),
		cron.Config{
			MaxConcurrent: a.cfg.Scheduler.MaxConcurrent,
			JobTimeout:    time.Duration(a.cfg.Scheduler.JobTimeoutSeconds) * time.Second,
			IdleInterval:  time.Duration(a.cfg.Scheduler.IdleIntervalSec) * time.Second,
		})
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}
	a.scheduler = scheduler

	a.cronTool = tools.NewCronTool(scheduler, a.logger)
	if err := a.registry.Register(a.cronTool); err != nil {
		return fmt.Errorf("failed to register cron tool: %w", err)
	}
	return nil
}

func (a *App) buildContext() error {
	builder, err := agentctx.NewBuilder(agentctx.Config{
		Workspace: a.cfg.Workspace.Path,
		Timezone:  a.cfg.Workspace.Timezone,
		SkillsDir: a.cfg.Workspace.SkillsDir(),
	}, a.logger)
	if err != nil {
		// The workspace may not exist for one-shot runs; the loop still
		// works without a system prompt.
		a.logger.Warn("workspace context unavailable",
			logger.Field{Key: "path", Value: a.cfg.Workspace.Path},
			logger.Field{Key: "error", Value: err.Error()})
		return nil
	}
	a.context = builder
	return nil
}

// Start brings up the long-running components.
func (a *App) Start(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	maxAge := time.Duration(a.cfg.Subagent.CleanupHours) * time.Hour
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	a.janitor = cleanup.NewRunner(time.Hour, a.logger)
	if a.subagent != nil {
		a.janitor.Add(cleanup.TaskFunc{
			TaskName: "subagent-tasks",
			Fn: func(ctx context.Context) (int, error) {
				return a.subagent.Cleanup(maxAge), nil
			},
		})
	}
	a.janitor.Add(cleanup.TaskFunc{
		TaskName: "session-transcripts",
		Fn: func(ctx context.Context) (int, error) {
			return a.sessions.RemoveOlderThan(time.Now().Add(-30 * 24 * time.Hour))
		},
	})
	a.janitor.Start(ctx)

	a.logger.Info("application started")
	return nil
}

// Stop shuts everything down in reverse order.
func (a *App) Stop() error {
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("scheduler stop failed", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("job store close failed", err)
		}
	}
	a.logger.Info("application stopped")
	return nil
}

// ProcessMessage runs one message through the reasoning loop and returns
// the final response.
func (a *App) ProcessMessage(ctx context.Context, sessionID, message string) (string, error) {
	var systemPrompt string
	if a.context != nil {
		prompt, err := a.context.Build()
		if err != nil {
			a.logger.Warn("failed to build system prompt",
				logger.Field{Key: "error", Value: err.Error()})
		} else {
			systemPrompt = prompt
		}
	}
	if a.spawnTool != nil {
		a.spawnTool.SetSession(sessionID)
	}

	history, err := a.sessions.LoadHistory(ctx, sessionID)
	if err != nil {
		a.logger.Warn("failed to load session history",
			logger.Field{Key: "session_id", Value: sessionID},
			logger.Field{Key: "error", Value: err.Error()})
	}

	return a.loop.ProcessDirect(ctx, loop.RunRequest{
		SessionID:    sessionID,
		Message:      message,
		History:      history,
		SystemPrompt: systemPrompt,
	})
}

// Scheduler exposes job administration, nil when scheduling is disabled.
func (a *App) Scheduler() *cron.Scheduler { return a.scheduler }

// Subagent exposes task administration, nil when subagents are disabled.
func (a *App) Subagent() *subagent.Manager { return a.subagent }

// Loop exposes the reasoning loop.
func (a *App) Loop() *loop.Loop { return a.loop }
