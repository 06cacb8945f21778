package domain

import "time"

// ============================================================
// Conversation persistence — rows in the managed store
// ============================================================

// Chat is one conversation owned by a user.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatMessage is one persisted message. Assistant messages carry the agent
// that produced them and the terminal status of that agent's call.
type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"` // user, assistant
	AgentID   string    `json:"agentId,omitempty"`
	Content   string    `json:"content"`
	Status    string    `json:"status,omitempty"` // complete, error (assistant only)
	CreatedAt time.Time `json:"createdAt"`
}

// ============================================================
// Chat API — request/response contracts
// ============================================================

// CreateChatRequest is the body of POST /v1/chats.
type CreateChatRequest struct {
	Title string `json:"title,omitempty"`
}

// RenameChatRequest is the body of PATCH /v1/chats/{chatID}.
type RenameChatRequest struct {
	Title string `json:"title"`
}

// SendMessageRequest is the body of POST /v1/chats/{chatID}/messages.
// RunID is client-generated so the UI can cancel the run while it is still
// in flight; when omitted the server generates one (not cancellable).
type SendMessageRequest struct {
	RunID    string        `json:"runId,omitempty"`
	Message  string        `json:"message"`
	AgentIDs []string      `json:"agentIds"`
	Files    []FileSummary `json:"files,omitempty"`
}

// SendMessageResponse returns the run outcome: one result per processed
// agent, in request order, each independently complete or error.
type SendMessageResponse struct {
	RunID   string        `json:"runId"`
	ChatID  string        `json:"chatId"`
	Results []AgentResult `json:"results"`
}
