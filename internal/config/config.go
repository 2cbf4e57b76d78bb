package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DataDir     string
	MemoryPath  string
	EssencePath string
	Timezone    string

	MaxConcurrent int
	PollTimeout   time.Duration

	WelcomeHint   bool
	InjectionScan bool
	DeepScanLLM   bool
	AutoLearn     bool

	Compaction CompactionConfig

	LLM       LLMConfig
	Extractor LLMConfig

	Bots    MultiBot
	Storage StorageConfig
	Budget  BudgetConfig
	Alerts  AlertsConfig
}

type CompactionConfig struct {
	RecentWindow int
	CharBudget   int
	SummaryChars int
	LLMSummarize bool
}

type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

type BotInstance struct {
	Enabled bool
	Token   string
}

type MultiBot struct {
	Telegram BotInstance
	Discord  BotInstance
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type BudgetConfig struct {
	Enabled    bool
	DailyLimit int
	WarnAt     float64
}

type AlertsConfig struct {
	Channel string
	ChatID  string
}

func Load() (*Config, error) {
	dataDir := os.Getenv("PAWD_DATA")
	if dataDir == "" {
		dataDir = "data"
	}

	memoryPath := os.Getenv("PAWD_MEMORY")
	if memoryPath == "" {
		memoryPath = dataDir + "/pawd.db"
	}

	essencePath := os.Getenv("PAWD_ESSENCE")
	if essencePath == "" {
		essencePath = "essence"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	maxConcurrent := 5
	if n, err := strconv.Atoi(os.Getenv("PAWD_MAX_CONCURRENT")); err == nil && n > 0 {
		maxConcurrent = n
	}

	llmConfig, err := loadLLMConfig("LLM")
	if err != nil {
		return nil, err
	}

	// Extractor falls back to the main LLM when unset; it powers
	// auto-learn, deep scan, and history summarization.
	extractorConfig, err := loadLLMConfig("EXTRACTOR")
	if err != nil {
		extractorConfig = llmConfig
	}

	return &Config{
		DataDir:       dataDir,
		MemoryPath:    memoryPath,
		EssencePath:   essencePath,
		Timezone:      timezone,
		MaxConcurrent: maxConcurrent,
		PollTimeout:   time.Second,
		WelcomeHint:   os.Getenv("PAWD_WELCOME_HINT") != "false",
		InjectionScan: os.Getenv("PAWD_INJECTION_SCAN") != "false",
		DeepScanLLM:   os.Getenv("PAWD_DEEP_SCAN") == "true",
		AutoLearn:     os.Getenv("PAWD_AUTO_LEARN") != "false",
		Compaction:    loadCompactionConfig(),
		LLM:           llmConfig,
		Extractor:     extractorConfig,
		Bots:          loadMultiBotConfig(),
		Storage:       loadStorageConfig(),
		Budget:        loadBudgetConfig(),
		Alerts:        loadAlertsConfig(),
	}, nil
}

func loadCompactionConfig() CompactionConfig {
	recentWindow := 20
	if n, err := strconv.Atoi(os.Getenv("PAWD_COMPACTION_WINDOW")); err == nil && n > 0 {
		recentWindow = n
	}

	charBudget := 24000
	if n, err := strconv.Atoi(os.Getenv("PAWD_COMPACTION_BUDGET")); err == nil && n > 0 {
		charBudget = n
	}

	return CompactionConfig{
		RecentWindow: recentWindow,
		CharBudget:   charBudget,
		SummaryChars: 1500,
		LLMSummarize: os.Getenv("PAWD_COMPACTION_LLM") == "true",
	}
}

func loadMultiBotConfig() MultiBot {
	telegramToken := os.Getenv("TELEGRAM_TOKEN")
	discordToken := os.Getenv("DISCORD_TOKEN")

	return MultiBot{
		Telegram: BotInstance{
			Enabled: telegramToken != "",
			Token:   telegramToken,
		},
		Discord: BotInstance{
			Enabled: discordToken != "",
			Token:   discordToken,
		},
	}
}

func loadStorageConfig() StorageConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	return StorageConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
	}
}

func loadBudgetConfig() BudgetConfig {
	enabled := os.Getenv("BUDGET_ENABLED") == "true"

	dailyLimit := 100000
	if limit, err := strconv.Atoi(os.Getenv("BUDGET_DAILY_LIMIT")); err == nil && limit > 0 {
		dailyLimit = limit
	}

	warnAt := 0.8
	if warn, err := strconv.ParseFloat(os.Getenv("BUDGET_WARN_AT"), 64); err == nil && warn > 0 && warn < 1 {
		warnAt = warn
	}

	return BudgetConfig{
		Enabled:    enabled,
		DailyLimit: dailyLimit,
		WarnAt:     warnAt,
	}
}

func loadAlertsConfig() AlertsConfig {
	return AlertsConfig{
		Channel: os.Getenv("ALERT_CHANNEL"),
		ChatID:  os.Getenv("ALERT_CHAT_ID"),
	}
}

func loadLLMConfig(prefix string) (LLMConfig, error) {
	provider := os.Getenv(prefix + "_PROVIDER")
	if provider == "" {
		provider = "claude"
	}

	apiKey, err := getAPIKey(provider, prefix)
	if err != nil {
		return LLMConfig{}, err
	}

	return LLMConfig{
		Provider: provider,
		APIKey:   apiKey,
		Model:    os.Getenv(prefix + "_MODEL"),
		BaseURL:  os.Getenv(prefix + "_BASE_URL"),
	}, nil
}

func getAPIKey(provider, prefix string) (string, error) {
	if key := os.Getenv(prefix + "_API_KEY"); key != "" {
		return key, nil
	}

	switch provider {
	case "claude":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return "", errMissingKey("ANTHROPIC_API_KEY")
		}
		return key, nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return "", errMissingKey("OPENAI_API_KEY")
		}
		return key, nil
	case "kimi":
		key := os.Getenv("KIMI_API_KEY")
		if key == "" {
			return "", errMissingKey("KIMI_API_KEY")
		}
		return key, nil
	case "ollama":
		// Ollama doesn't need an API key
		return "ollama", nil
	default:
		return "", errMissingKey(provider + " API key")
	}
}

type errMissingKey string

func (e errMissingKey) Error() string {
	return string(e) + " not set"
}
