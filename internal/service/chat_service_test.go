package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/cache"
	"github.com/lumenbi/insight-agents-go/internal/infra/observability"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
	"github.com/lumenbi/insight-agents-go/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory ConversationStore for service tests.
type memStore struct {
	mu       sync.Mutex
	chats    map[string]*domain.Chat
	messages map[string][]domain.ChatMessage
}

func newMemStore() *memStore {
	return &memStore{
		chats:    make(map[string]*domain.Chat),
		messages: make(map[string][]domain.ChatMessage),
	}
}

func (s *memStore) CreateChat(_ context.Context, chat *domain.Chat) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	s.chats[chat.ID] = chat
	return chat, nil
}

func (s *memStore) GetChat(_ context.Context, userID, chatID string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UserID != userID {
		return nil, &domain.ErrNotFound{Resource: "chat", ID: chatID}
	}
	copied := *chat
	return &copied, nil
}

func (s *memStore) ListChats(_ context.Context, userID string) ([]domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chat
	for _, c := range s.chats {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) RenameChat(_ context.Context, userID, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat, ok := s.chats[chatID]; ok && chat.UserID == userID {
		chat.Title = title
	}
	return nil
}

func (s *memStore) TouchChat(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat, ok := s.chats[chatID]; ok {
		chat.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memStore) DeleteChat(_ context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

func (s *memStore) AppendMessage(_ context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], *msg)
	return nil
}

func (s *memStore) ListMessages(_ context.Context, chatID string, page, pageSize int) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	start := (page - 1) * pageSize
	if start >= len(msgs) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(msgs) {
		end = len(msgs)
	}
	return msgs[start:end], nil
}

func (s *memStore) messageCount(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[chatID])
}

func newTestChatService(t *testing.T, inv port.AgentInvoker) (*ChatService, *memStore) {
	t.Helper()
	registry := resilience.NewRegistry(resilience.Options{
		Services:       []string{domain.ServiceDeepSeek, domain.ServiceOpenAI},
		Window:         time.Second,
		MaxRequests:    100,
		DispatchTick:   5 * time.Millisecond,
		MaxAttempts:    2,
		RetryBaseDelay: time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(registry.Close)

	o := NewOrchestrator(
		map[string]port.AgentInvoker{
			domain.ServiceDeepSeek: inv,
			domain.ServiceOpenAI:   inv,
		},
		registry,
		cache.New[domain.AgentResult](time.Minute, 50),
		observability.NewMetrics(),
		zap.NewNop(),
		time.Millisecond,
		0,
	)
	store := newMemStore()
	svc := NewChatService(store, o, NewRunTable(), observability.NewMetrics(), zap.NewNop(), domain.DefaultAgents())
	return svc, store
}

func TestSendMessage_PersistsUserAndAgentMessages(t *testing.T) {
	svc, store := newTestChatService(t, &fakeInvoker{})

	chat, err := svc.CreateChat(context.Background(), "user-1", &domain.CreateChatRequest{Title: "Q3 review"})
	require.NoError(t, err)

	resp, err := svc.SendMessage(context.Background(), "user-1", chat.ID, &domain.SendMessageRequest{
		RunID:    "run-1",
		Message:  "analyze revenue",
		AgentIDs: []string{"financial-analyst", "data-analyst"},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", resp.RunID)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, domain.StatusComplete, resp.Results[0].Status)

	// 1 user message + 2 agent results.
	assert.Equal(t, 3, store.messageCount(chat.ID))

	msgs, err := svc.ListMessages(context.Background(), "user-1", chat.ID, 1, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "financial-analyst", msgs[1].AgentID)
}

func TestSendMessage_ValidatesInput(t *testing.T) {
	svc, store := newTestChatService(t, &fakeInvoker{})
	chat, err := svc.CreateChat(context.Background(), "user-1", &domain.CreateChatRequest{Title: "t"})
	require.NoError(t, err)

	cases := []struct {
		name string
		req  *domain.SendMessageRequest
	}{
		{"empty message", &domain.SendMessageRequest{AgentIDs: []string{"financial-analyst"}}},
		{"no agents", &domain.SendMessageRequest{Message: "hi"}},
		{"unknown agent", &domain.SendMessageRequest{Message: "hi", AgentIDs: []string{"nope"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendMessage(context.Background(), "user-1", chat.ID, tc.req)
			var verr *domain.ErrValidation
			require.ErrorAs(t, err, &verr)
		})
	}
	assert.Equal(t, 0, store.messageCount(chat.ID))
}

func TestSendMessage_UnknownChat(t *testing.T) {
	svc, _ := newTestChatService(t, &fakeInvoker{})

	_, err := svc.SendMessage(context.Background(), "user-1", "missing", &domain.SendMessageRequest{
		Message:  "hi",
		AgentIDs: []string{"financial-analyst"},
	})
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestSendMessage_OtherUsersChatIsNotFound(t *testing.T) {
	svc, _ := newTestChatService(t, &fakeInvoker{})
	chat, err := svc.CreateChat(context.Background(), "owner", &domain.CreateChatRequest{Title: "private"})
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), "intruder", chat.ID, &domain.SendMessageRequest{
		Message:  "hi",
		AgentIDs: []string{"financial-analyst"},
	})
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
}

func TestCancelRun_InFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInvoker{handler: func(ctx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, &domain.ErrCancelled{Err: ctx.Err()}
		case <-release:
			return &domain.ProviderResult{Content: "late"}, nil
		}
	}}
	svc, _ := newTestChatService(t, inv)
	chat, err := svc.CreateChat(context.Background(), "user-1", &domain.CreateChatRequest{Title: "t"})
	require.NoError(t, err)

	type outcome struct {
		resp *domain.SendMessageResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, serr := svc.SendMessage(context.Background(), "user-1", chat.ID, &domain.SendMessageRequest{
			RunID:    "run-cancel",
			Message:  "slow question",
			AgentIDs: []string{"financial-analyst"},
		})
		done <- outcome{resp, serr}
	}()

	<-started
	assert.True(t, svc.CancelRun("user-1", "run-cancel"))

	out := <-done
	require.NoError(t, out.err)
	require.Len(t, out.resp.Results, 1)
	assert.Equal(t, domain.StoppedByUser, out.resp.Results[0].Error)
	close(release)
}

func TestCancelRun_UnknownIsIdempotent(t *testing.T) {
	svc, _ := newTestChatService(t, &fakeInvoker{})
	assert.False(t, svc.CancelRun("user-1", "never-registered"))
	assert.False(t, svc.CancelRun("user-1", "never-registered"))
}

func TestCancelRun_ScopedToOwner(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	inv := &fakeInvoker{handler: func(ctx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, &domain.ErrCancelled{Err: ctx.Err()}
		case <-release:
			return &domain.ProviderResult{Content: "done", TotalTokens: 5}, nil
		}
	}}
	svc, _ := newTestChatService(t, inv)
	chat, err := svc.CreateChat(context.Background(), "owner", &domain.CreateChatRequest{Title: "t"})
	require.NoError(t, err)

	type outcome struct {
		resp *domain.SendMessageResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, serr := svc.SendMessage(context.Background(), "owner", chat.ID, &domain.SendMessageRequest{
			RunID:    "run-owned",
			Message:  "slow question",
			AgentIDs: []string{"financial-analyst"},
		})
		done <- outcome{resp, serr}
	}()

	// A cancel from a different user must not touch the owner's run.
	<-started
	assert.False(t, svc.CancelRun("intruder", "run-owned"))
	close(release)

	out := <-done
	require.NoError(t, out.err)
	require.Len(t, out.resp.Results, 1)
	assert.Equal(t, domain.StatusComplete, out.resp.Results[0].Status)
}

func TestRunTable_RegisterCancelRemove(t *testing.T) {
	table := NewRunTable()

	ctx := table.Register(context.Background(), "u1", "r1")
	assert.Equal(t, 1, table.Active())
	assert.False(t, table.Cancel("u2", "r1"))
	require.True(t, table.Cancel("u1", "r1"))
	<-ctx.Done()

	table.Remove("u1", "r1")
	assert.Equal(t, 0, table.Active())
	assert.False(t, table.Cancel("u1", "r1"))
}
