// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/lumenbi/insight-agents-go/internal/domain"
)

// AgentInvoker performs one outbound LLM call for a persona. Implementations
// must respect ctx cancellation at the transport level and return typed
// domain errors (ErrProvider, ErrCancelled) so callers can classify without
// inspecting message text.
type AgentInvoker interface {
	Invoke(ctx context.Context, inv *domain.AgentInvocation) (*domain.ProviderResult, error)
}

// ConversationStore persists chats and messages. Implemented by the
// Supabase adapter (or any other persistence layer). The orchestration core
// never touches it; only the chat service does, after a run completes.
type ConversationStore interface {
	CreateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	ListChats(ctx context.Context, userID string) ([]domain.Chat, error)
	RenameChat(ctx context.Context, userID, chatID, title string) error
	TouchChat(ctx context.Context, chatID string) error
	DeleteChat(ctx context.Context, userID, chatID string) error

	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error
	ListMessages(ctx context.Context, chatID string, page, pageSize int) ([]domain.ChatMessage, error)
}

// Cache provides generic caching with TTL and bounded capacity.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
