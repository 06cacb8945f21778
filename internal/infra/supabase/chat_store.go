package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
)

// Row mappings for the chats and messages tables.

type chatRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageRow struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   string    `json:"content"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (r chatRow) toDomain() domain.Chat {
	return domain.Chat{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r messageRow) toDomain() domain.ChatMessage {
	return domain.ChatMessage{
		ID:        r.ID,
		ChatID:    r.ChatID,
		Role:      r.Role,
		AgentID:   r.AgentID,
		Content:   r.Content,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
}

// --- port.ConversationStore implementation ---

// CreateChat inserts a chat row and returns the stored representation.
func (c *Client) CreateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateChat")
	defer span.End()

	body, err := c.resilient(ctx, http.MethodPost, "chats", map[string]any{
		"id":      chat.ID,
		"user_id": chat.UserID,
		"title":   chat.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	var rows []chatRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode created chat: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create chat: empty response")
	}
	created := rows[0].toDomain()
	return &created, nil
}

// GetChat fetches one chat scoped to its owner.
func (c *Client) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetChat")
	defer span.End()

	path := fmt.Sprintf("chats?id=eq.%s&user_id=eq.%s&limit=1",
		url.QueryEscape(chatID), url.QueryEscape(userID))
	body, err := c.resilient(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if body == nil || string(body) == "[]" {
		return nil, &domain.ErrNotFound{Resource: "chat", ID: chatID}
	}

	var rows []chatRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "chat", ID: chatID}
	}
	chat := rows[0].toDomain()
	return &chat, nil
}

// ListChats returns the user's chats, most recently updated first.
func (c *Client) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListChats")
	defer span.End()

	path := fmt.Sprintf("chats?user_id=eq.%s&order=updated_at.desc", url.QueryEscape(userID))
	body, err := c.resilient(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if body == nil {
		return []domain.Chat{}, nil
	}

	var rows []chatRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	chats := make([]domain.Chat, 0, len(rows))
	for _, r := range rows {
		chats = append(chats, r.toDomain())
	}
	return chats, nil
}

// RenameChat updates the title of a chat owned by userID.
func (c *Client) RenameChat(ctx context.Context, userID, chatID, title string) error {
	ctx, span := tracer.Start(ctx, "Supabase.RenameChat")
	defer span.End()

	path := fmt.Sprintf("chats?id=eq.%s&user_id=eq.%s",
		url.QueryEscape(chatID), url.QueryEscape(userID))
	_, err := c.resilient(ctx, http.MethodPatch, path, map[string]any{
		"title":      title,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("rename chat: %w", err)
	}
	return nil
}

// TouchChat bumps a chat's updated_at so it sorts to the top of the sidebar.
func (c *Client) TouchChat(ctx context.Context, chatID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.TouchChat")
	defer span.End()

	path := fmt.Sprintf("chats?id=eq.%s", url.QueryEscape(chatID))
	_, err := c.resilient(ctx, http.MethodPatch, path, map[string]any{
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	return nil
}

// DeleteChat removes a chat and relies on the store's cascade for messages.
func (c *Client) DeleteChat(ctx context.Context, userID, chatID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteChat")
	defer span.End()

	path := fmt.Sprintf("chats?id=eq.%s&user_id=eq.%s",
		url.QueryEscape(chatID), url.QueryEscape(userID))
	if _, err := c.resilient(ctx, http.MethodDelete, path, nil); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// AppendMessage inserts one message row.
func (c *Client) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	ctx, span := tracer.Start(ctx, "Supabase.AppendMessage")
	defer span.End()

	payload := map[string]any{
		"id":      msg.ID,
		"chat_id": msg.ChatID,
		"role":    msg.Role,
		"content": msg.Content,
	}
	if msg.AgentID != "" {
		payload["agent_id"] = msg.AgentID
	}
	if msg.Status != "" {
		payload["status"] = msg.Status
	}

	if _, err := c.resilient(ctx, http.MethodPost, "messages", payload); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns a page of a chat's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, chatID string, page, pageSize int) ([]domain.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListMessages")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	path := fmt.Sprintf("messages?chat_id=eq.%s&order=created_at.asc&limit=%d&offset=%d",
		url.QueryEscape(chatID), pageSize, offset)
	body, err := c.resilient(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if body == nil {
		return []domain.ChatMessage{}, nil
	}

	var rows []messageRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]domain.ChatMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toDomain())
	}
	return msgs, nil
}
