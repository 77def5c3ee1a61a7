// Package handler exposes the orchestrator over HTTP: sends, stops, tool
// results, a history snapshot and the SSE event stream.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"parley/internal/config"
	"parley/internal/domain"
	domainchat "parley/internal/domain/services/chat"
	"parley/internal/handler/sse"
	"parley/internal/httputil"
	chatSvc "parley/internal/service/chat"
)

// ChatHandler serves the gateway endpoints.
type ChatHandler struct {
	service     *chatSvc.Service
	broadcaster *Broadcaster
	sseConfig   *sse.Config
	logger      *slog.Logger
}

// NewChatHandler creates the handler.
func NewChatHandler(service *chatSvc.Service, broadcaster *Broadcaster, sseConfig *sse.Config, logger *slog.Logger) *ChatHandler {
	if sseConfig == nil {
		sseConfig = sse.DefaultConfig()
	}
	return &ChatHandler{
		service:     service,
		broadcaster: broadcaster,
		sseConfig:   sseConfig,
		logger:      logger,
	}
}

// Register mounts the routes.
func (h *ChatHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/send", h.HandleSend)
	mux.HandleFunc("POST /api/chat/stop", h.HandleStop)
	mux.HandleFunc("POST /api/chat/tool_results", h.HandleToolResults)
	mux.HandleFunc("GET /api/chat/history", h.HandleHistory)
	mux.HandleFunc("GET /api/chat/events", h.HandleEvents)
}

// sendRequest is the POST /api/chat/send body.
type sendRequest struct {
	Text    string `json:"text"`
	Persist *bool  `json:"persist,omitempty"`
}

func (r sendRequest) validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text,
			validation.Required,
			validation.Length(1, config.MaxUserTextLength),
		),
	)
}

// HandleSend enqueues a user send and returns immediately; the response
// streams over /api/chat/events.
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	persist := true
	if req.Persist != nil {
		persist = *req.Persist
	}

	go func() {
		opts := chatSvc.SendOptions{Display: true, Persist: persist}
		if err := h.service.SendUser(context.Background(), req.Text, opts); err != nil {
			h.logger.Warn("send failed", "error", err)
		}
	}()

	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleStop requests cooperative cancellation of the in-flight stream.
func (h *ChatHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.service.RequestStop()
	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "stop requested"})
}

// toolResultRequest is one finished tool execution posted by an external
// runner.
type toolResultRequest struct {
	ToolUseID   string   `json:"tool_use_id"`
	OutputLines []string `json:"output_lines"`
	IsError     bool     `json:"is_error"`
}

// HandleToolResults ingests externally executed tool results.
func (h *ChatHandler) HandleToolResults(w http.ResponseWriter, r *http.Request) {
	var reqs []toolResultRequest
	if err := httputil.ParseJSON(w, r, &reqs); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(reqs) == 0 {
		httputil.RespondError(w, http.StatusBadRequest, "no tool results provided")
		return
	}

	outcomes := make([]domainchat.ToolOutcome, 0, len(reqs))
	for _, req := range reqs {
		if req.ToolUseID == "" {
			httputil.RespondError(w, http.StatusBadRequest, "tool_use_id is required")
			return
		}
		outcomes = append(outcomes, domainchat.ToolOutcome{
			ToolUseID:   req.ToolUseID,
			OutputLines: req.OutputLines,
			IsError:     req.IsError,
		})
	}

	go func() {
		if err := h.service.IngestToolResults(context.Background(), outcomes); err != nil {
			h.logger.Warn("tool result ingestion failed", "error", err)
		}
	}()

	httputil.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleHistory returns the current history snapshot.
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.service.History())
}

// HandleEvents streams bus events to the client as SSE.
func (h *ChatHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	writer, ok := sse.NewEventWriter(w)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clientID := uuid.NewString()
	events := h.broadcaster.AddClient(clientID)
	defer h.broadcaster.RemoveClient(clientID)

	h.logger.Info("sse client connected", "client_id", clientID)
	defer h.logger.Info("sse client disconnected", "client_id", clientID)

	keepAlive := time.NewTicker(h.sseConfig.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepAlive.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}

		case event, open := <-events:
			if !open {
				return
			}
			if err := writer.WriteEvent(event); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("sse write failed", "client_id", clientID, "error", err)
				}
				return
			}
		}
	}
}

// RespondDomainError maps domain errors onto HTTP statuses.
func RespondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	default:
		httputil.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
