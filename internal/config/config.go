// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Configuration holds all settings for the call bridge service.
type Configuration struct {
	Service       ServiceConfig
	Speech        SpeechConfig
	Telephony     TelephonyConfig
	RecordKeeper  RecordKeeperConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal string // service identity attached to published events
	HTTPAddr  string // main listen address (signaling, media stream, admin)
	PublicURL string // externally reachable URL, used to build media stream URLs
}

// SpeechConfig holds speech backend (OpenAI Realtime) settings.
type SpeechConfig struct {
	APIKey       string
	URL          string // websocket endpoint, model included as query param
	Voice        string
	InputFormat  string // audio codec for caller -> backend, forwarded opaquely
	OutputFormat string // audio codec for backend -> caller
	Temperature  float64
	Instructions string // static assistant instructions; objectives are prepended per call
}

// TelephonyConfig holds Twilio settings.
type TelephonyConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
	AgentAppSID string // application dialed for inbound calls (second leg)
}

// RecordKeeperConfig holds the record-keeping collaborator settings.
type RecordKeeperConfig struct {
	BaseURL string
}

// KafkaConfig holds event mirroring settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicTranscript string
	TopicStatus     string
	Principal       string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	MetricsAddr string
}

// Load reads configuration from the environment, applying defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-bridge")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			HTTPAddr:  ":" + envOrDefault("PORT", "8080"),
			PublicURL: os.Getenv("CALL_BRIDGE_PUBLIC_URL"),
		},
		Speech: SpeechConfig{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			URL:          envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-realtime"),
			Voice:        envOrDefault("OPENAI_VOICE", "ash"),
			InputFormat:  envOrDefault("OPENAI_INPUT_FORMAT", "g711_ulaw"),
			OutputFormat: envOrDefault("OPENAI_OUTPUT_FORMAT", "g711_ulaw"),
			Temperature:  envOrDefaultFloat("OPENAI_TEMPERATURE", 0.8),
			Instructions: envOrDefault("ASSISTANT_INSTRUCTIONS", defaultInstructions),
		},
		Telephony: TelephonyConfig{
			AccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
			PhoneNumber: os.Getenv("TWILIO_PHONE_NUMBER"),
			AgentAppSID: os.Getenv("TWILIO_AGENT_APP_SID"),
		},
		RecordKeeper: RecordKeeperConfig{
			BaseURL: os.Getenv("APP_URL"),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			TopicTranscript: envOrDefault("KAFKA_TOPIC_TRANSCRIPT", "call.transcript"),
			TopicStatus:     envOrDefault("KAFKA_TOPIC_STATUS", "call.status"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			MetricsAddr: envOrDefault("METRICS_ADDR", ":9090"),
		},
	}
}

// Validate reports all required settings that are missing.
func (c *Configuration) Validate() error {
	var missing []string
	if c.Speech.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.RecordKeeper.BaseURL == "" {
		missing = append(missing, "APP_URL")
	}
	if c.Service.PublicURL == "" {
		missing = append(missing, "CALL_BRIDGE_PUBLIC_URL")
	}
	if c.Telephony.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.Telephony.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.Telephony.PhoneNumber == "" {
		missing = append(missing, "TWILIO_PHONE_NUMBER")
	}
	if c.Telephony.AgentAppSID == "" {
		missing = append(missing, "TWILIO_AGENT_APP_SID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return parsed
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaultInstructions is the fallback assistant prompt used when the
// deployment does not supply business-specific instructions.
const defaultInstructions = `You are a helpful phone assistant. ` +
	`Greet the caller, listen carefully, answer concisely, and use the available ` +
	`tools when the caller asks for a link or wants to end the call. ` +
	`Say a polite goodbye before ending any call.`
