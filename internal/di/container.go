package di

import (
	"fmt"
	"strings"

	"github.com/Idsl-group/code-agent/internal/adapter/tool"
	"github.com/Idsl-group/code-agent/internal/application/port/input"
	"github.com/Idsl-group/code-agent/internal/application/port/output"
	"github.com/Idsl-group/code-agent/internal/application/service"
	"github.com/Idsl-group/code-agent/internal/infrastructure/llm/ollama"
	"github.com/Idsl-group/code-agent/internal/infrastructure/llm/openaicompat"
	"github.com/Idsl-group/code-agent/internal/infrastructure/logger"
	"github.com/Idsl-group/code-agent/internal/infrastructure/storage/bolt"
	"github.com/Idsl-group/code-agent/internal/infrastructure/userinteraction"
	"github.com/Idsl-group/code-agent/internal/usecase/extraction"
	"github.com/Idsl-group/code-agent/internal/usecase/orchestrator"
	"github.com/Idsl-group/code-agent/internal/usecase/reflection"
	"github.com/Idsl-group/code-agent/internal/usecase/selector"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Container struct {
	LLM          output.CompletionPort
	Logger       output.LoggerPort
	Tools        output.ToolRegistry
	Transcripts  output.TranscriptStore
	TaskExecutor input.TaskExecutor
}

type Config struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Structured  bool

	RootDir               string
	MaxTurns              int
	MaxRepairAttempts     int
	MaxReflectionAttempts int
	HistoryWindow         int
	UserInputRoute        string
	// TranscriptPath empty disables transcript persistence.
	TranscriptPath string

	TaskName string
	LogDir   string
	LogLevel string

	// Human and Progress default to the console.
	Human    output.HumanInputPort
	Progress output.ProgressPort
}

// ConfigFrom reads every setting from cfg.
func ConfigFrom(cfg output.ConfigPort) Config {
	return Config{
		Provider:              strings.ToLower(cfg.GetWithDefault("llm.provider", ProviderOpenAI)),
		APIKey:                cfg.Get("llm.api_key"),
		BaseURL:               cfg.Get("llm.base_url"),
		Model:                 cfg.Get("llm.model"),
		Temperature:           float32(cfg.GetFloat("llm.temperature")),
		Structured:            cfg.GetBool("llm.structured"),
		RootDir:               cfg.Get("agent.root_dir"),
		MaxTurns:              cfg.GetInt("agent.max_turns"),
		MaxRepairAttempts:     cfg.GetInt("agent.max_repair_attempts"),
		MaxReflectionAttempts: cfg.GetInt("agent.max_reflection_attempts"),
		HistoryWindow:         cfg.GetInt("agent.history_window"),
		UserInputRoute:        cfg.Get("agent.user_input_route"),
		TranscriptPath:        cfg.Get("agent.transcript_path"),
		LogDir:                cfg.Get("log.dir"),
		LogLevel:              cfg.Get("log.level"),
	}
}

func NewContainer(cfg Config) (*Container, error) {
	route, err := orchestrator.ParseUserInputRoute(cfg.UserInputRoute)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLoggerAdapter(cfg.TaskName, logger.Options{Dir: cfg.LogDir, Level: cfg.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	llm, err := newCompletionPort(cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}

	tools := service.NewToolRegistry(log)
	if err := tool.RegisterBuiltins(tools, tool.NewWorkspace(cfg.RootDir, log), log); err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	var transcripts output.TranscriptStore
	if cfg.TranscriptPath != "" {
		store, err := bolt.NewTranscriptStore(cfg.TranscriptPath)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}
		transcripts = store
	}

	human, progress := cfg.Human, cfg.Progress
	if human == nil || progress == nil {
		console := userinteraction.NewConsoleUserInteraction()
		if human == nil {
			human = console
		}
		if progress == nil {
			progress = console
		}
	}

	pipeline := extraction.New(llm, log, cfg.MaxRepairAttempts)
	sel := selector.New(llm, tools, pipeline, log, selector.Config{
		HistoryWindow: cfg.HistoryWindow,
		Temperature:   cfg.Temperature,
	})
	eval := reflection.New(llm, tools, pipeline, log, reflection.Config{
		MaxAttempts:   cfg.MaxReflectionAttempts,
		HistoryWindow: cfg.HistoryWindow,
		Temperature:   cfg.Temperature,
	})

	uc := orchestrator.New(sel, eval, tools, human, progress, transcripts, log, orchestrator.Config{
		MaxTurns:       cfg.MaxTurns,
		UserInputRoute: route,
	})

	return &Container{
		LLM:          llm,
		Logger:       log,
		Tools:        tools,
		Transcripts:  transcripts,
		TaskExecutor: uc,
	}, nil
}

func newCompletionPort(cfg Config, log output.LoggerPort) (output.CompletionPort, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key is required for provider %q", ProviderOpenAI)
		}
		llmCfg := openaicompat.DefaultConfig(cfg.APIKey, cfg.Model)
		if cfg.BaseURL != "" {
			llmCfg.BaseURL = cfg.BaseURL
		}
		llmCfg.Structured = cfg.Structured
		llmCfg.Logger = log
		return openaicompat.New(llmCfg), nil
	case ProviderOllama:
		return ollama.New(ollama.Config{ServerURL: cfg.BaseURL, Model: cfg.Model, Logger: log})
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func (c *Container) Close() {
	if c.Transcripts != nil {
		c.Transcripts.Close()
	}
	if c.Logger != nil {
		c.Logger.Close()
	}
}
