package platform

import (
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	LLMClient *openai.Client
)

func InitLLMClient() {
	LLMClient = openai.NewClient(
		option.WithBaseURL(os.Getenv("LLM_BASE_URL")),
		option.WithAPIKey(os.Getenv("LLM_API_KEY")),
	)
}

// LLMModel returns the configured completion model, defaulting to the
// cheapest tier of the configured provider.
func LLMModel() string {
	if model := os.Getenv("LLM_MODEL"); model != "" {
		return model
	}
	if os.Getenv("LLM_PROVIDER") == "gemini" {
		return "gemini-2.5-flash"
	}
	return "gpt-4o-mini"
}
