package domain

import "time"

// ============================================================
// Agent personas
// ============================================================

// Agent is a named persona routed to one of the LLM providers with its own
// system prompt. Personas are configuration data: the catalog below is the
// process-wide default and can be trimmed via config.
type Agent struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Service      string  `json:"service"` // provider service id: "deepseek" or "openai"
	Model        string  `json:"model"`
	MaxTokens    int     `json:"maxTokens"`
	Temperature  float64 `json:"temperature"`
	SystemPrompt string  `json:"-"`
}

// Known provider service IDs.
const (
	ServiceDeepSeek = "deepseek"
	ServiceOpenAI   = "openai"
	ServiceSupabase = "supabase"
)

// DefaultAgents returns the built-in BI persona catalog.
func DefaultAgents() []Agent {
	return []Agent{
		{
			ID:          "financial-analyst",
			Name:        "Financial Analyst",
			Description: "Revenue, margin and cash-flow analysis from uploaded statements.",
			Service:     ServiceDeepSeek,
			MaxTokens:   2048,
			Temperature: 0.3,
			SystemPrompt: "You are a senior financial analyst. Analyze the provided business " +
				"data and answer with concrete figures, trends and risks. Prefer tables for " +
				"numeric comparisons and always state the period you are referring to.",
		},
		{
			ID:          "market-researcher",
			Name:        "Market Researcher",
			Description: "Competitive landscape and market positioning.",
			Service:     ServiceDeepSeek,
			MaxTokens:   2048,
			Temperature: 0.7,
			SystemPrompt: "You are a market research specialist. Assess market context, " +
				"competitors and positioning for the business described by the user. Flag " +
				"assumptions explicitly when data is missing.",
		},
		{
			ID:          "data-analyst",
			Name:        "Data Analyst",
			Description: "Exploratory analysis of uploaded spreadsheets and reports.",
			Service:     ServiceOpenAI,
			MaxTokens:   2048,
			Temperature: 0.2,
			SystemPrompt: "You are a data analyst. Work strictly from the attached file " +
				"summaries and the user's question. Point out data-quality issues before " +
				"drawing conclusions.",
		},
		{
			ID:          "strategy-advisor",
			Name:        "Strategy Advisor",
			Description: "Synthesis and recommendations across the other analyses.",
			Service:     ServiceOpenAI,
			MaxTokens:   2048,
			Temperature: 0.6,
			SystemPrompt: "You are a business strategy advisor. Give prioritized, actionable " +
				"recommendations with expected impact and effort. Be direct about trade-offs.",
		},
	}
}

// ============================================================
// Agent run — transient request/result types
// ============================================================

// FileSummary carries the pre-extracted summary of an uploaded document.
// Content extraction happens upstream; the backend only threads summaries
// into prompts and cache fingerprints.
type FileSummary struct {
	Name        string `json:"name"`
	ContentHash string `json:"contentHash"`
	Summary     string `json:"summary"`
}

// AgentInvocation is one outbound provider call: a persona plus the user
// prompt and attachments.
type AgentInvocation struct {
	Agent  Agent
	Prompt string
	Files  []FileSummary
	UserID string // audit metadata only
}

// ProviderResult is the raw outcome of one successful provider call.
type ProviderResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// AgentResultStatus enumerates the terminal states of one agent call.
type AgentResultStatus string

const (
	StatusPending  AgentResultStatus = "pending"
	StatusComplete AgentResultStatus = "complete"
	StatusError    AgentResultStatus = "error"
)

// StoppedByUser is the error message attached to results of agents aborted
// by an explicit user cancel. The front-end matches on it.
const StoppedByUser = "stopped by user"

// AgentResult is the per-agent outcome returned to the caller. Results are
// appended in request order; an agent produces at most one result.
type AgentResult struct {
	AgentID     string            `json:"agentId"`
	Content     string            `json:"content,omitempty"`
	Status      AgentResultStatus `json:"status"`
	Error       string            `json:"error,omitempty"`
	FromCache   bool              `json:"fromCache,omitempty"`
	TokensUsed  int               `json:"tokensUsed,omitempty"`
	LatencyMs   int64             `json:"latencyMs,omitempty"`
	CompletedAt time.Time         `json:"completedAt"`
}

// RunRequest is one user action: a prompt fanned out to the selected agents.
type RunRequest struct {
	RunID    string
	UserID   string
	Prompt   string
	Agents   []Agent
	Files    []FileSummary
	Priority int
}

// Admission priorities for the rate-limiter queue. Interactive work beats
// background work (title generation) when slots are contended.
const (
	PriorityBackground  = 0
	PriorityInteractive = 10
)
