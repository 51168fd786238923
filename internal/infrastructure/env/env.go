package env

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Idsl-group/code-agent/internal/application/port/output"
)

var _ output.ConfigPort = (*EnvService)(nil)

// ConfigFileEnv names the variable holding an optional YAML config path.
const ConfigFileEnv = "AGENT_CONFIG"

type EnvService struct {
	v *viper.Viper
}

type Options struct {
	// ConfigFile overrides AGENT_CONFIG. When both are empty ./agent.yaml is
	// read if present.
	ConfigFile string
	// SkipDotEnv disables loading .env files.
	SkipDotEnv bool
}

func NewEnvService(opts Options) (*EnvService, error) {
	if !opts.SkipDotEnv {
		loadDotEnv()
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("agent.root_dir", "AGENT_ROOT_DIR", "ROOT_DIR")

	configFile := opts.ConfigFile
	if configFile == "" {
		configFile = os.Getenv(ConfigFileEnv)
	}
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("agent")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &EnvService{v: v}, nil
}

func loadDotEnv() {
	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "dev"
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Info: no .env file with secrets found (this is OK for CI/CD)")
	}

	envFile := fmt.Sprintf(".env.%s", appEnv)
	if err := godotenv.Overload(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: could not load %s: %v", envFile, err)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.structured", true)

	v.SetDefault("agent.root_dir", "./")
	v.SetDefault("agent.max_turns", 50)
	v.SetDefault("agent.max_repair_attempts", 5)
	v.SetDefault("agent.max_reflection_attempts", 5)
	v.SetDefault("agent.history_window", 0)
	v.SetDefault("agent.user_input_route", "reflect")
	v.SetDefault("agent.transcript_path", "transcripts.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.dir", "log")
}

func (e *EnvService) Get(key string) string {
	return e.v.GetString(key)
}

func (e *EnvService) MustGet(key string) string {
	val := e.v.GetString(key)
	if val == "" {
		panic(fmt.Sprintf("config %s is missing", key))
	}
	return val
}

func (e *EnvService) GetWithDefault(key string, defaultValue string) string {
	if val := e.v.GetString(key); val != "" {
		return val
	}
	return defaultValue
}

func (e *EnvService) GetInt(key string) int {
	return e.v.GetInt(key)
}

func (e *EnvService) GetFloat(key string) float64 {
	return e.v.GetFloat64(key)
}

func (e *EnvService) GetBool(key string) bool {
	return e.v.GetBool(key)
}
