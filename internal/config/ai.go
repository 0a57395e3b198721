package config

import "time"

// AIConfig holds the settings of the assistants provider.  The syllabus and the
// deck content are produced by two distinct assistants sharing one thread.
type AIConfig struct {
	APIKey            string
	BaseURL           string
	SyllabusAssistant string
	DeckAssistant     string
	PollInterval      time.Duration
	RunTimeout        time.Duration
	HTTPTimeout       time.Duration
	MaxRetries        int
}

// LoadAIConfig reads OPENAI_* and *_ASSISTANT_ID variables.  The API key and
// both assistant ids are required.
func LoadAIConfig() AIConfig {
	return AIConfig{
		APIKey:            must("OPENAI_API_KEY"),
		BaseURL:           envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		SyllabusAssistant: must("SYLLABUS_ASSISTANT_ID"),
		DeckAssistant:     must("DECK_ASSISTANT_ID"),
		PollInterval:      envDur("AI_POLL_INTERVAL", time.Second),
		RunTimeout:        envDur("AI_RUN_TIMEOUT", 3*time.Minute),
		HTTPTimeout:       envDur("AI_HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:        envInt("AI_MAX_RETRIES", 3),
	}
}
