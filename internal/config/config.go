package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	// Engine tuning knobs. All of these have safe defaults; operators only
	// override them when a deployment needs different latency/cost tradeoffs.
	RecentHistoryWindow    int
	AnalysisWindow         int
	InactivityTimeout      time.Duration
	ClassifierTimeout      time.Duration
	AnalyzerTimeout        time.Duration
	FailClosedRiskLevel    string
	FarewellTokens         []string
	AnalyzeAfterEscalation bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	TurnQueueURL        string
	CaseRecordsTable    string
	AssessmentBucket    string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModel         string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Counselor alerting
	CounselorEmails []string
	CounselorPhones []string
	SESFromEmail    string
}

// defaultFarewellTokens is the closed English farewell vocabulary. Matching is
// against the tail of the message, so a mid-sentence "goodbye" does not end
// the conversation.
var defaultFarewellTokens = []string{
	"bye", "goodbye", "bye for now", "see you", "see ya", "talk later",
	"talk to you later", "gotta go", "good night", "goodnight", "take care",
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		RecentHistoryWindow:    getEnvAsInt("RECENT_HISTORY_WINDOW", 10),
		AnalysisWindow:         getEnvAsInt("ANALYSIS_WINDOW", 30),
		InactivityTimeout:      getEnvAsDuration("INACTIVITY_TIMEOUT", 30*time.Minute),
		ClassifierTimeout:      getEnvAsDuration("CLASSIFIER_TIMEOUT", 8*time.Second),
		AnalyzerTimeout:        getEnvAsDuration("ANALYZER_TIMEOUT", 45*time.Second),
		FailClosedRiskLevel:    getEnv("FAIL_CLOSED_RISK_LEVEL", "moderate"),
		FarewellTokens:         getEnvAsList("FAREWELL_TOKENS", defaultFarewellTokens),
		AnalyzeAfterEscalation: getEnvAsBool("ANALYZE_AFTER_ESCALATION", true),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		TurnQueueURL:        getEnv("TURN_QUEUE_URL", ""),
		CaseRecordsTable:    getEnv("CASE_RECORDS_TABLE", "case_records"),
		AssessmentBucket:    getEnv("ASSESSMENT_BUCKET", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Havenline Support"),

		CounselorEmails: getEnvAsList("COUNSELOR_ALERT_EMAILS", nil),
		CounselorPhones: getEnvAsList("COUNSELOR_ALERT_PHONES", nil),
		SESFromEmail:    getEnv("SES_FROM_EMAIL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, trimming blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
