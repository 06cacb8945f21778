package handler

import (
	"net/http"

	"github.com/lumenbi/insight-agents-go/internal/service"
)

// listAgentsHandler returns the persona catalog. System prompts are not
// serialized.
func listAgentsHandler(svc *service.ChatService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Agents())
	}
}
