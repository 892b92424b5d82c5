package llm

import (
	"strings"
	"time"
)

// Providers understood by the client. They differ only in authentication
// and endpoint shape.
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
)

// DefaultOpenAIBaseURL is used when the openai provider has no endpoint.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// Config configures the completion endpoint and the prompts.
type Config struct {
	// Provider is "azure" (api-key header, full deployment URL) or
	// "openai" (Bearer token, base URL). Detected from Endpoint if empty.
	Provider string `yaml:"provider" validate:"omitempty,oneof=azure openai"`

	// Endpoint is the Azure deployment URL or the OpenAI-compatible base URL.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// APIKey authenticates requests. Prefer the keyring or an env var.
	APIKey string `yaml:"api_key"`

	// Model is sent in the request body when set. Azure deployments ignore it.
	Model string `yaml:"model"`

	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout"`

	// SystemPrompt is the system message of every request.
	SystemPrompt string `yaml:"system_prompt"`

	// SummaryPrompt and FollowUpPrompt are text/template sources rendered
	// with .Group, .Admin and .Transcript.
	SummaryPrompt  string `yaml:"summary_prompt"`
	FollowUpPrompt string `yaml:"followup_prompt"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Temperature:    0.7,
		MaxTokens:      500,
		Timeout:        30 * time.Second,
		SystemPrompt:   "You are a helpful assistant.",
		SummaryPrompt:  DefaultSummaryPrompt,
		FollowUpPrompt: DefaultFollowUpPrompt,
	}
}

// DefaultSummaryPrompt asks for the three-section admin summary.
const DefaultSummaryPrompt = `You are an executive assistant summarizing a WhatsApp group conversation for the admin.

Read the conversation from the group "{{.Group}}" and summarize it into short, actionable bullet points.

Your summary must include exactly three sections:
1. Key things done: brief bullet points on completed work or progress updates.
2. Outstanding tasks & owners: tasks that are pending, with the name of the person responsible.
3. Bottlenecks & actions you need to take: current blockers and the specific actions you should take.

Keep it concise, factual and easy to read. Do not add commentary or headings beyond these three sections. Do not use bold text or numbered bullets.

Here is the group conversation:

{{.Transcript}}

Now write the summary.`

// DefaultFollowUpPrompt asks for one evening follow-up line per participant.
const DefaultFollowUpPrompt = `You are a polite assistant preparing evening follow-up messages in a WhatsApp group called '{{.Group}}'.

Here is today's group conversation:
{{.Transcript}}

Rules:
- Identify what each non-admin person planned to do in the morning.
- Write a short, polite evening follow-up asking them for an update.
- Skip admin "{{.Admin}}".
- Format: <name>: <evening message>`

// detectProvider guesses the provider from the endpoint host.
func detectProvider(endpoint string) string {
	lower := strings.ToLower(endpoint)
	if strings.Contains(lower, ".openai.azure.com") ||
		strings.Contains(lower, ".azure-api.net") ||
		strings.Contains(lower, "api-version=") {
		return ProviderAzure
	}
	return ProviderOpenAI
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Provider == "" {
		c.Provider = detectProvider(c.Endpoint)
	}
	if c.Provider == ProviderOpenAI && c.Endpoint == "" {
		c.Endpoint = DefaultOpenAIBaseURL
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = def.SystemPrompt
	}
	if c.SummaryPrompt == "" {
		c.SummaryPrompt = def.SummaryPrompt
	}
	if c.FollowUpPrompt == "" {
		c.FollowUpPrompt = def.FollowUpPrompt
	}
	return c
}
