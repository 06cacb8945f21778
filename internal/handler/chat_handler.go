package handler

import (
	"encoding/json"
	"net/http"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Chats — /v1/chats
// ============================================================

func createChatHandler(svc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chats")
		defer span.End()

		var req domain.CreateChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		chat, err := svc.CreateChat(ctx, UserIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, chat)
	}
}

func listChatsHandler(svc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/chats")
		defer span.End()

		chats, err := svc.ListChats(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if chats == nil {
			chats = []domain.Chat{}
		}
		writeJSON(w, http.StatusOK, chats)
	}
}

func getChatHandler(svc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/chats/{chatID}")
		defer span.End()

		chatID := chi.URLParam(r, "chatID")
		span.SetAttributes(attribute.String("chat.id", chatID))

		chat, err := svc.GetChat(ctx, UserIDFromContext(ctx), chatID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	}
}

func renameChatHandler(svc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/chats/{chatID}")
		defer span.End()

		chatID := chi.URLParam(r, "chatID")

		var req domain.RenameChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.RenameChat(ctx, UserIDFromContext(ctx), chatID, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": chatID, "title": req.Title})
	}
}

func deleteChatHandler(svc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/chats/{chatID}")
		defer span.End()

		chatID := chi.URLParam(r, "chatID")

		if err := svc.DeleteChat(ctx, UserIDFromContext(ctx), chatID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Messages — /v1/chats/{chatID}/messages
// ============================================================

func listMessagesHandler(svc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/chats/{chatID}/messages")
		defer span.End()

		chatID := chi.URLParam(r, "chatID")
		page, pageSize := parsePagination(r)

		msgs, err := svc.ListMessages(ctx, UserIDFromContext(ctx), chatID, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if msgs == nil {
			msgs = []domain.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func sendMessageHandler(svc *service.ChatService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/chats/{chatID}/messages")
		defer span.End()

		chatID := chi.URLParam(r, "chatID")
		span.SetAttributes(attribute.String("chat.id", chatID))

		var req domain.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		resp, err := svc.SendMessage(ctx, UserIDFromContext(ctx), chatID, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ============================================================
// Run cancellation — POST /v1/runs/{runID}/cancel
// ============================================================

// cancelRunHandler always answers 202: cancellation is asynchronous and
// idempotent, so a late cancel for a finished run is not an error.
func cancelRunHandler(svc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		inFlight := svc.CancelRun(UserIDFromContext(r.Context()), runID)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"runId":    runID,
			"inFlight": inFlight,
		})
	}
}
