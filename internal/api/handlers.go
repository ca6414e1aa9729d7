package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/LeventeLantos/webhook-inbox/internal/batch"
	"github.com/LeventeLantos/webhook-inbox/internal/model"
	"github.com/LeventeLantos/webhook-inbox/internal/normalize"
	"github.com/LeventeLantos/webhook-inbox/internal/realtime"
	"github.com/LeventeLantos/webhook-inbox/internal/repo"
	"github.com/LeventeLantos/webhook-inbox/internal/service"
)

const maxBodyBytes = 5 << 20

// Inbox is the slice of the ingestion service the HTTP surface needs.
type Inbox interface {
	Ingest(ctx context.Context, raw []byte, source string) (service.Report, error)
	Send(ctx context.Context, req service.SendRequest) (model.Message, error)
	MarkRead(ctx context.Context, conversationID string) (int64, error)
	Conversations(ctx context.Context) ([]model.ConversationView, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	Contacts(ctx context.Context) ([]model.Contact, error)
	SaveContact(ctx context.Context, c model.Contact) (model.Contact, error)
	Stats(ctx context.Context) (model.Stats, error)
	Ping(ctx context.Context) error
}

type Spooler interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Status() batch.SpoolStatus
}

type Subscriber interface {
	Subscribe(kind realtime.Kind, fn realtime.Handler) (unsubscribe func())
}

type Handler struct {
	inbox  Inbox
	spool  Spooler
	events Subscriber
	log    *slog.Logger
}

// NewHandler wires the HTTP handlers. spool and events may be nil, in
// which case their endpoints answer 503.
func NewHandler(inbox Inbox, spool Spooler, events Subscriber, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inbox: inbox, spool: spool, events: events, log: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, store := "OK", "connected"
	code := http.StatusOK
	if err := h.inbox.Ping(r.Context()); err != nil {
		status, store = "DEGRADED", "disconnected"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"store":     store,
		"timestamp": time.Now().UTC(),
	})
}

// Webhook accepts any JSON document. Payloads that cannot be understood
// are still acknowledged so the sender does not retry them forever; only
// a store failure turns into a 5xx.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	rep, err := h.inbox.Ingest(r.Context(), raw, service.SourceWebhook)
	if errors.Is(err, normalize.ErrInvalidJSON) {
		writeError(w, http.StatusBadRequest, "body must be JSON")
		return
	}
	if err != nil {
		h.log.Error("webhook ingest failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}
	if rep.Failed > 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   "failed to store payload",
			"report":  rep,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": rep})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req service.SendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.inbox.Send(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, repo.ErrDuplicate):
		writeError(w, http.StatusConflict, "message id already exists")
		return
	case err != nil:
		h.log.Error("send failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "message": m})
}

func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	views, err := h.inbox.Conversations(r.Context())
	if err != nil {
		h.fail(w, "list chats", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(views))
}

func (h *Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 0)
	msgs, err := h.inbox.Messages(r.Context(), r.PathValue("conversationId"), limit)
	if err != nil {
		h.fail(w, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.MarkRead(r.Context(), r.PathValue("conversationId"))
	if err != nil {
		h.fail(w, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": n})
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.inbox.Contacts(r.Context())
	if err != nil {
		h.fail(w, "list contacts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(contacts))
}

type contactRequest struct {
	ConversationID string  `json:"conversationId"`
	DisplayName    string  `json:"displayName"`
	Phone          string  `json:"phone"`
	AvatarRef      *string `json:"avatarRef"`
}

func (h *Handler) SaveContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "conversationId and displayName are required")
		return
	}

	c, err := h.inbox.SaveContact(r.Context(), model.Contact{
		ConversationID: req.ConversationID,
		DisplayName:    req.DisplayName,
		Phone:          req.Phone,
		AvatarRef:      req.AvatarRef,
	})
	if errors.Is(err, service.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.fail(w, "save contact", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.inbox.Stats(r.Context())
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) SpoolStatus(w http.ResponseWriter, r *http.Request) {
	if !h.spoolEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.spool.Status())
}

func (h *Handler) SpoolStart(w http.ResponseWriter, r *http.Request) {
	if !h.spoolEnabled(w) {
		return
	}
	h.spool.Start()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.spool.IsRunning()})
}

func (h *Handler) SpoolStop(w http.ResponseWriter, r *http.Request) {
	if !h.spoolEnabled(w) {
		return
	}
	h.spool.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.spool.IsRunning()})
}

func (h *Handler) spoolEnabled(w http.ResponseWriter) bool {
	if h.spool == nil {
		writeError(w, http.StatusServiceUnavailable, "spool is not configured")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.log.Error(op+" failed", slog.Any("err", err))
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
