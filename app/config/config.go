package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const defaultPath = "config.yaml"

type Config struct {
	Log       Log       `yaml:"log"`
	HTTP      HTTP      `yaml:"http"`
	DB        DB        `yaml:"db"`
	LLM       LLM       `yaml:"llm" validate:"required"`
	Retrieval Retrieval `yaml:"retrieval"`
	Session   Session   `yaml:"session"`
	// Path to a scenario catalog overriding the built-in refund dispute
	ScenarioFile string `yaml:"scenario_file" example:"scenarios.yaml"`
}

type HTTP struct {
	// Listen address of the command API
	Addr string `yaml:"addr" example:":8080" validate:"required"`
}

type LLM struct {
	// Generation backend: openai or gemini
	Provider string `yaml:"provider" example:"openai" validate:"required,oneof=openai gemini"`
	// Model used by the negotiator when the session does not pick one
	DefaultModel string `yaml:"default_model" example:"gpt-4o-mini" validate:"required"`
	// Model used for evaluation, reflection and summaries
	JudgeModel string       `yaml:"judge_model" example:"gpt-4o"`
	OpenAI     OpenAI       `yaml:"openai"`
	Gemini     Gemini       `yaml:"gemini"`
	Tuning     ModelTunings `yaml:"tuning"`
}

type OpenAI struct {
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://api.openai.com/v1"`
	// OpenAI token, falls back to OPENAI_API_KEY
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX"`
}

type Gemini struct {
	// Gemini API key, falls back to GEMINI_API_KEY
	APIKey string `yaml:"api_key" example:"AIzaSyA-abc123"`
}

type ModelTunings struct {
	Negotiator ModelTuning `yaml:"negotiator"`
	Judge      ModelTuning `yaml:"judge"`
}

type ModelTuning struct {
	Temperature float32 `yaml:"temperature" example:"0.7" validate:"gte=0,lte=2"`
	MaxTokens   int     `yaml:"max_tokens" example:"1000" validate:"gte=0"`
}

type Retrieval struct {
	// Disable policy lookups entirely
	Disabled bool `yaml:"disabled" example:"false"`
	// Chroma server url
	ChromaURL string `yaml:"chroma_url" example:"http://localhost:8000"`
	// Collection holding the policy chunks
	Collection string `yaml:"collection" example:"refund_policy"`
	// Embedding model
	EmbeddingModel string `yaml:"embedding_model" example:"text-embedding-3-small"`
	// Number of excerpts per lookup
	TopK int `yaml:"top_k" example:"3" validate:"gte=1,lte=20"`
	// Lookups happen only when the participant mentions one of these; empty means always
	Keywords []string `yaml:"keywords"`
}

type Session struct {
	// Reflection attempts allowed after the first evaluation
	MaxRetries int `yaml:"max_retries" example:"3" validate:"gte=0,lte=10"`
	// Both scores must reach this value to count as success
	ScoreThreshold int `yaml:"score_threshold" example:"60" validate:"gte=0,lte=100"`
	// Whether a participant-forced finish may still trigger reflection
	ReflectOnUserFinish bool `yaml:"reflect_on_user_finish" example:"false"`
	// Trajectory length after which the summary is refreshed
	SummaryAfter int `yaml:"summary_after" example:"12" validate:"gte=2"`
	// Number of most recent turns quoted verbatim in prompts
	TailSize int `yaml:"tail_size" example:"8" validate:"gte=1"`
}

type Log struct {
	// Minimum level: debug, info, warn, error
	Level string `yaml:"level" example:"info" validate:"omitempty,oneof=debug info warn error"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type DB struct {
	// SQLite database file
	Path string `yaml:"path" example:"data/negotiator.db" validate:"required"`
	// Optional NDJSON mirror of terminal records
	RecordLog string `yaml:"record_log" example:"data/records.ndjson"`
}

func Load() (*Config, error) {
	return LoadFile(defaultPath)
}

func LoadFile(path string) (*Config, error) {
	// .env is optional, real environment wins
	_ = godotenv.Load()

	// zero is a valid retry budget and threshold, so these defaults are seeded before parsing
	result := Config{
		Session: Session{
			MaxRetries:     3,
			ScoreThreshold: 60,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	applyDefaults(&result)
	applyEnv(&result)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	if result.LLM.Provider == "openai" && result.LLM.OpenAI.Token == "" {
		return nil, oops.Errorf("openai token is required (llm.openai.token or OPENAI_API_KEY)")
	}
	if result.LLM.Provider == "gemini" && result.LLM.Gemini.APIKey == "" {
		return nil, oops.Errorf("gemini api key is required (llm.gemini.api_key or GEMINI_API_KEY)")
	}

	return &result, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.DB.Path == "" {
		cfg.DB.Path = "data/negotiator.db"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "gpt-4o-mini"
	}
	if cfg.LLM.JudgeModel == "" {
		cfg.LLM.JudgeModel = cfg.LLM.DefaultModel
	}
	if cfg.LLM.Tuning.Negotiator.Temperature == 0 {
		cfg.LLM.Tuning.Negotiator.Temperature = 0.8
	}
	if cfg.LLM.Tuning.Negotiator.MaxTokens == 0 {
		cfg.LLM.Tuning.Negotiator.MaxTokens = 1000
	}
	if cfg.LLM.Tuning.Judge.Temperature == 0 {
		cfg.LLM.Tuning.Judge.Temperature = 0.2
	}
	if cfg.LLM.Tuning.Judge.MaxTokens == 0 {
		cfg.LLM.Tuning.Judge.MaxTokens = 1500
	}
	if cfg.Retrieval.ChromaURL == "" {
		cfg.Retrieval.ChromaURL = "http://localhost:8000"
	}
	if cfg.Retrieval.Collection == "" {
		cfg.Retrieval.Collection = "refund_policy"
	}
	if cfg.Retrieval.EmbeddingModel == "" {
		cfg.Retrieval.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Session.SummaryAfter == 0 {
		cfg.Session.SummaryAfter = 12
	}
	if cfg.Session.TailSize == 0 {
		cfg.Session.TailSize = 8
	}
}

func applyEnv(cfg *Config) {
	if cfg.LLM.OpenAI.Token == "" {
		cfg.LLM.OpenAI.Token = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.LLM.Gemini.APIKey == "" {
		cfg.LLM.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Log.Telegram.Token == "" {
		cfg.Log.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	}
	if cfg.Log.Telegram.ChatID == "" {
		cfg.Log.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
}
