package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/observability"
	"github.com/lumenbi/insight-agents-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var chatTracer = otel.Tracer("service/chat")

const (
	maxMessageLen   = 32_000
	maxAgentsPerRun = 8
	defaultPageSize = 50
	maxPageSize     = 200
)

// ChatService owns the conversation surface: chat CRUD, the send-message
// flow that drives the orchestrator, and run cancellation.
type ChatService struct {
	store        port.ConversationStore
	orchestrator *Orchestrator
	runs         *RunTable
	metrics      *observability.Metrics
	logger       *zap.Logger
	agents       map[string]domain.Agent
	agentOrder   []string
	titleTimeout time.Duration
}

// NewChatService wires the conversation surface. catalog is the persona
// set exposed to clients; order is preserved for listing.
func NewChatService(
	store port.ConversationStore,
	orchestrator *Orchestrator,
	runs *RunTable,
	metrics *observability.Metrics,
	logger *zap.Logger,
	catalog []domain.Agent,
) *ChatService {
	agents := make(map[string]domain.Agent, len(catalog))
	order := make([]string, 0, len(catalog))
	for _, a := range catalog {
		agents[a.ID] = a
		order = append(order, a.ID)
	}
	return &ChatService{
		store:        store,
		orchestrator: orchestrator,
		runs:         runs,
		metrics:      metrics,
		logger:       logger,
		agents:       agents,
		agentOrder:   order,
		titleTimeout: 20 * time.Second,
	}
}

// Agents returns the persona catalog in its configured order.
func (s *ChatService) Agents() []domain.Agent {
	out := make([]domain.Agent, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		out = append(out, s.agents[id])
	}
	return out
}

// CreateChat creates an empty conversation. An omitted title defaults to
// "New chat" and is replaced asynchronously after the first message.
func (s *ChatService) CreateChat(ctx context.Context, userID string, req *domain.CreateChatRequest) (*domain.Chat, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New chat"
	}
	chat := &domain.Chat{
		ID:     uuid.NewString(),
		UserID: userID,
		Title:  title,
	}
	return s.store.CreateChat(ctx, chat)
}

func (s *ChatService) GetChat(ctx context.Context, userID, chatID string) (*domain.Chat, error) {
	return s.store.GetChat(ctx, userID, chatID)
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	return s.store.ListChats(ctx, userID)
}

func (s *ChatService) RenameChat(ctx context.Context, userID, chatID string, req *domain.RenameChatRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return &domain.ErrValidation{Field: "title", Message: "must not be empty"}
	}
	if _, err := s.store.GetChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.store.RenameChat(ctx, userID, chatID, title)
}

func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := s.store.GetChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.store.DeleteChat(ctx, userID, chatID)
}

// ListMessages returns one page of the chat history, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, userID, chatID string, page, pageSize int) ([]domain.ChatMessage, error) {
	if _, err := s.store.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return s.store.ListMessages(ctx, chatID, page, pageSize)
}

// SendMessage runs the prompt against the selected agents and persists the
// user message plus one assistant message per agent result.
func (s *ChatService) SendMessage(ctx context.Context, userID, chatID string, req *domain.SendMessageRequest) (*domain.SendMessageResponse, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.SendMessage")
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, &domain.ErrValidation{Field: "message", Message: "must not be empty"}
	}
	if len(message) > maxMessageLen {
		return nil, &domain.ErrValidation{Field: "message", Message: "too long"}
	}
	if len(req.AgentIDs) == 0 {
		return nil, &domain.ErrValidation{Field: "agentIds", Message: "select at least one agent"}
	}
	if len(req.AgentIDs) > maxAgentsPerRun {
		return nil, &domain.ErrValidation{Field: "agentIds", Message: "too many agents"}
	}

	agents := make([]domain.Agent, 0, len(req.AgentIDs))
	for _, id := range req.AgentIDs {
		agent, ok := s.agents[id]
		if !ok {
			return nil, &domain.ErrValidation{Field: "agentIds", Message: "unknown agent: " + id}
		}
		agents = append(agents, agent)
	}

	chat, err := s.store.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("chat.id", chatID))

	// The user's message is recorded before any provider is called, so the
	// conversation stays coherent even if the run is aborted mid-way.
	// Persistence failures from here on are logged, not surfaced: the chat
	// exists and the user still gets their results.
	userMsg := &domain.ChatMessage{
		ID:      uuid.NewString(),
		ChatID:  chat.ID,
		Role:    "user",
		Content: attachFileNames(message, req.Files),
	}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		s.logger.Error("persist user message", zap.String("chat_id", chat.ID), zap.Error(err))
	}

	runCtx := s.runs.Register(ctx, userID, runID)
	defer s.runs.Remove(userID, runID)

	run := &domain.RunRequest{
		RunID:    runID,
		UserID:   userID,
		Prompt:   message,
		Agents:   agents,
		Files:    req.Files,
		Priority: domain.PriorityInteractive,
	}
	results := s.orchestrator.Run(runCtx, run)
	s.metrics.IncrRun(runStatus(results))

	// Persist results on a fresh context: a user cancel aborts the provider
	// calls, not the record of what happened.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.persistResults(persistCtx, chat, results)

	if chat.Title == "New chat" {
		go s.retitle(chat, message)
	}

	return &domain.SendMessageResponse{
		RunID:   runID,
		ChatID:  chatID,
		Results: results,
	}, nil
}

// CancelRun aborts an in-flight run owned by userID. Returns false when the
// run is unknown, already finished, or belongs to someone else; the handler
// still reports all of those as accepted.
func (s *ChatService) CancelRun(userID, runID string) bool {
	found := s.runs.Cancel(userID, runID)
	s.logger.Info("run cancel requested",
		zap.String("run_id", runID),
		zap.Bool("in_flight", found),
	)
	return found
}

func (s *ChatService) persistResults(ctx context.Context, chat *domain.Chat, results []domain.AgentResult) {
	for _, res := range results {
		content := res.Content
		if res.Status == domain.StatusError {
			content = res.Error
		}
		msg := &domain.ChatMessage{
			ID:      uuid.NewString(),
			ChatID:  chat.ID,
			Role:    "assistant",
			AgentID: res.AgentID,
			Content: content,
			Status:  string(res.Status),
		}
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			s.logger.Error("persist agent result",
				zap.String("chat_id", chat.ID),
				zap.String("agent_id", res.AgentID),
				zap.Error(err),
			)
		}
	}

	if err := s.store.TouchChat(ctx, chat.ID); err != nil {
		s.logger.Error("touch chat", zap.String("chat_id", chat.ID), zap.Error(err))
	}
}

// retitle replaces the placeholder title with a generated one. Background
// priority keeps it behind interactive traffic in the limiter queue.
func (s *ChatService) retitle(chat *domain.Chat, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.titleTimeout)
	defer cancel()

	title := s.orchestrator.GenerateTitle(ctx, message)
	if title == "" || title == chat.Title {
		return
	}
	if err := s.store.RenameChat(ctx, chat.UserID, chat.ID, title); err != nil {
		s.logger.Warn("chat retitle failed", zap.String("chat_id", chat.ID), zap.Error(err))
	}
}

// runStatus labels a run for metrics: error only when every agent failed.
func runStatus(results []domain.AgentResult) string {
	for _, r := range results {
		if r.Status == domain.StatusComplete {
			return "success"
		}
	}
	return "error"
}

func attachFileNames(message string, files []domain.FileSummary) string {
	if len(files) == 0 {
		return message
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return message + "\n\n[attachments: " + strings.Join(names, ", ") + "]"
}
