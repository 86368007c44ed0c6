package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jobflow/capture-server-go/internal/errors"
	"github.com/jobflow/capture-server-go/internal/model"
	"github.com/jobflow/capture-server-go/internal/service"
)

type SessionHandler struct {
	sessionService *service.SessionService
}

func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/upsert", h.Upsert)
	r.Get("/", h.List)
	r.Post("/audio", h.IngestAudio)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/quote/finalize", h.FinalizeQuote)
	r.Post("/{id}/payments", h.RecordPayment)

	return r
}

// upsertRequest wraps an identity hint and the patch body. Unknown
// patch fields flow through to the session's metadata bag.
type upsertRequest struct {
	Producer   string       `json:"producer"`
	ExternalID string       `json:"external_id"`
	SourceKey  string       `json:"source_key"`
	Patch      *model.Patch `json:"patch"`
}

// POST /api/sessions/upsert
// Core capture API: resolve identity, merge the patch, commit.
func (h *SessionHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if req.Patch == nil {
		req.Patch = &model.Patch{}
	}

	hint := model.IdentityHint{
		Producer:   req.Producer,
		ExternalID: req.ExternalID,
		SourceKey:  req.SourceKey,
	}

	result, err := h.sessionService.Upsert(r.Context(), hint, req.Patch)
	if err != nil {
		log.Error().Err(err).Str("producer", req.Producer).Msg("upsert failed")
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"session": result.Session,
		"created": result.Created,
	})
}

// GET /api/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)

	page, err := h.sessionService.List(r.Context(), p.Offset, p.Limit)
	if err != nil {
		log.Error().Err(err).Msg("list sessions failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GET /api/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.sessionService.Fetch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// POST /api/sessions/{id}/quote/finalize
func (h *SessionHandler) FinalizeQuote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := h.sessionService.FinalizeQuote(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.CommitSummary())
}

// POST /api/sessions/{id}/payments
func (h *SessionHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var in model.PaymentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}
	if in.Method == "" {
		writeError(w, apperrors.MissingRequired("method"))
		return
	}

	sess, err := h.sessionService.RecordPayment(r.Context(), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.CommitSummary())
}

// POST /api/sessions/audio
// Multipart voice-note ingest: the file is transcribed and folded into
// the resolved session's transcript.
func (h *SessionHandler) IngestAudio(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, apperrors.ValidationError("Invalid multipart body"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperrors.MissingRequired("file"))
		return
	}
	defer file.Close()

	hint := model.IdentityHint{
		Producer:   r.FormValue("producer"),
		ExternalID: r.FormValue("external_id"),
		SourceKey:  r.FormValue("source_key"),
	}

	locator := r.FormValue("locator")
	if locator == "" {
		locator = "audio:" + uuid.NewString()
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	result, err := h.sessionService.IngestAudio(r.Context(), hint, file, mimeType, locator, header.Size)
	if err != nil {
		log.Error().Err(err).Str("locator", locator).Msg("audio ingest failed")
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"session": result.Session,
		"created": result.Created,
	})
}
