package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/services/rag"
)

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Question         string   `json:"question" validate:"required"`
	IssueIDs         []string `json:"issue_ids" validate:"required,min=1"`
	ConversationID   string   `json:"conversation_id,omitempty"`
	Language         string   `json:"language,omitempty"`
	MaxContextIssues *int     `json:"max_context_issues,omitempty" validate:"omitempty,gte=0"`
}

// ChatHandler exposes the RAG context builder over HTTP and websocket.
type ChatHandler struct {
	builder  *rag.Builder
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewChatHandler constructs a ChatHandler.
func NewChatHandler(builder *rag.Builder, logger arbor.ILogger) *ChatHandler {
	return &ChatHandler{builder: builder, validate: validator.New(), logger: logger}
}

func (h *ChatHandler) decode(r *http.Request) (chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, h.validate.Struct(req)
}

// Chat handles POST /api/chat: a single non-streaming answer.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.decode(r)
	if err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.builder.Chat(r.Context(), rag.Request{
		Question:         req.Question,
		IssueIDs:         req.IssueIDs,
		ConversationID:   req.ConversationID,
		Language:         req.Language,
		MaxContextIssues: req.MaxContextIssues,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("chat failed")
		http.Error(w, "chat failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Stream handles GET /api/chat/stream: the request is carried as a
// JSON-encoded "q" query parameter since a websocket upgrade has no body.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if q := r.URL.Query().Get("q"); q != "" {
		if err := json.Unmarshal([]byte(q), &req); err != nil {
			http.Error(w, "invalid q parameter", http.StatusBadRequest)
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	deltas, err := h.builder.ChatStream(r.Context(), rag.Request{
		Question:         req.Question,
		IssueIDs:         req.IssueIDs,
		ConversationID:   req.ConversationID,
		Language:         req.Language,
		MaxContextIssues: req.MaxContextIssues,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("chat stream failed")
		http.Error(w, "chat stream failed", http.StatusInternalServerError)
		return
	}

	values := make(chan interface{})
	go func() {
		defer close(values)
		for delta := range deltas {
			values <- delta
		}
	}()

	writeJSONStream(w, r, h.logger, values)
}
