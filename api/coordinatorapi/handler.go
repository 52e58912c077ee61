package coordinatorapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/ceremony-coordinator/api/auth"
	"github.com/ruteri/ceremony-coordinator/interfaces"
)

// Ceremony is the coordinator surface served over HTTP.
type Ceremony interface {
	Join(ctx context.Context, id, address string) error
	Lock(ctx context.Context, id string) (interfaces.LockedLocators, error)
	NextTask(id string, locked interfaces.LockedLocators) (interfaces.Task, error)
	Challenge(ctx context.Context, id string, locked interfaces.LockedLocators) ([]byte, error)
	UploadChunk(ctx context.Context, id string, req interfaces.PostChunkRequest) error
	Contribute(id string, chunkID uint64) (interfaces.ContributionLocator, error)
	Heartbeat(id string) error
	PendingTasks(id string) ([]interfaces.Task, error)
	Status(id string) interfaces.ContributorStatus
	PostContributionInfo(ctx context.Context, id string, info interfaces.ContributionInfo) error
	ContributionsSummary(ctx context.Context) ([]interfaces.TrimmedContributionInfo, error)
	Update(ctx context.Context) error
	VerifyPending(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ContributeChunkRequest is the body of POST /contributor/contribute_chunk.
type ContributeChunkRequest struct {
	ChunkID uint64 `json:"chunk_id"`
}

// Handler serves the ceremony endpoints. Every endpoint except the public
// contribution summary requires a signed request.
type Handler struct {
	ceremony Ceremony
	auth     *auth.RequestAuthenticator
	onStop   func()
	log      *slog.Logger
}

// NewHandler creates a handler for ceremony. onStop, if set, runs after a
// successful GET /stop so the caller can shut the process down.
func NewHandler(ceremony Ceremony, authenticator *auth.RequestAuthenticator, onStop func(), log *slog.Logger) *Handler {
	return &Handler{
		ceremony: ceremony,
		auth:     authenticator,
		onStop:   onStop,
		log:      log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/contribution_info", h.HandleContributionsSummary)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Post("/contributor/join_queue", h.HandleJoinQueue)
		r.Get("/contributor/lock_chunk", h.HandleLockChunk)
		r.Post("/download/chunk", h.HandleDownloadChunk)
		r.Post("/contributor/challenge", h.HandleChallenge)
		r.Post("/upload/chunk", h.HandleUploadChunk)
		r.Post("/contributor/contribute_chunk", h.HandleContributeChunk)
		r.Post("/contributor/heartbeat", h.HandleHeartbeat)
		r.Get("/contributor/get_tasks_left", h.HandleTasksLeft)
		r.Get("/contributor/queue_status", h.HandleQueueStatus)
		r.Post("/contributor/contribution_info", h.HandlePostContributionInfo)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.VerifierOnly)

			r.Get("/update", h.HandleUpdate)
			r.Get("/verify", h.HandleVerify)
			r.Get("/stop", h.HandleStop)
		})
	})
}

// HandleJoinQueue adds the caller to the contributor queue and returns its status.
//
// URL format: POST /contributor/join_queue
func (h *Handler) HandleJoinQueue(w http.ResponseWriter, r *http.Request) {
	id := participant(r)
	if err := h.ceremony.Join(r.Context(), id, remoteHost(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, h.ceremony.Status(id))
}

// HandleLockChunk locks the chunk of the caller's next task.
//
// URL format: GET /contributor/lock_chunk
//
// Response: JSON, see interfaces.LockedLocators
func (h *Handler) HandleLockChunk(w http.ResponseWriter, r *http.Request) {
	locked, err := h.ceremony.Lock(r.Context(), participant(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, locked)
}

// HandleDownloadChunk returns the task behind the locators the caller holds.
//
// URL format: POST /download/chunk
//
// Request body: JSON, see interfaces.LockedLocators
func (h *Handler) HandleDownloadChunk(w http.ResponseWriter, r *http.Request) {
	var locked interfaces.LockedLocators
	if err := auth.DecodeBody(r, &locked); err != nil {
		auth.WriteError(w, err)
		return
	}
	task, err := h.ceremony.NextTask(participant(r), locked)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, task)
}

// HandleChallenge streams the challenge transcript of a locked chunk.
//
// URL format: POST /contributor/challenge
//
// Request body: JSON, see interfaces.LockedLocators
//
// Response: the raw transcript bytes
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var locked interfaces.LockedLocators
	if err := auth.DecodeBody(r, &locked); err != nil {
		auth.WriteError(w, err)
		return
	}
	challenge, err := h.ceremony.Challenge(r.Context(), participant(r), locked)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(challenge); err != nil {
		h.log.Error("Failed to write challenge", "err", err)
	}
}

// HandleUploadChunk stores a contribution and its file signature.
//
// URL format: POST /upload/chunk
//
// Request body: JSON, see interfaces.PostChunkRequest
func (h *Handler) HandleUploadChunk(w http.ResponseWriter, r *http.Request) {
	var req interfaces.PostChunkRequest
	if err := auth.DecodeBody(r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	if err := h.ceremony.UploadChunk(r.Context(), participant(r), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleContributeChunk returns the locator of the caller's contribution to a chunk.
//
// URL format: POST /contributor/contribute_chunk
//
// Request body: JSON, see ContributeChunkRequest
func (h *Handler) HandleContributeChunk(w http.ResponseWriter, r *http.Request) {
	var req ContributeChunkRequest
	if err := auth.DecodeBody(r, &req); err != nil {
		auth.WriteError(w, err)
		return
	}
	locator, err := h.ceremony.Contribute(participant(r), req.ChunkID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, locator)
}

func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.ceremony.Heartbeat(participant(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) HandleTasksLeft(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.ceremony.PendingTasks(participant(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []interfaces.Task{}
	}
	h.writeJSON(w, tasks)
}

func (h *Handler) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.ceremony.Status(participant(r)))
}

// HandlePostContributionInfo stores the caller's self-reported contribution info.
//
// URL format: POST /contributor/contribution_info
//
// Request body: JSON, see interfaces.ContributionInfo
func (h *Handler) HandlePostContributionInfo(w http.ResponseWriter, r *http.Request) {
	var info interfaces.ContributionInfo
	if err := auth.DecodeBody(r, &info); err != nil {
		auth.WriteError(w, err)
		return
	}
	if err := h.ceremony.PostContributionInfo(r.Context(), participant(r), info); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleContributionsSummary serves the public summary of finished contributions.
//
// URL format: GET /contribution_info
func (h *Handler) HandleContributionsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ceremony.ContributionsSummary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, summary)
}

// HandleUpdate runs one maintenance pass.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.ceremony.Update(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleVerify verifies every pending contribution.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if err := h.ceremony.VerifyPending(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleStop persists the ceremony state and stops the coordinator.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if err := h.ceremony.Shutdown(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	if h.onStop != nil {
		h.onStop()
	}
}

// StatusCode maps a coordinator error to the response status.
func StatusCode(err error) int {
	var reqErr *auth.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	switch interfaces.KindOf(err) {
	case interfaces.KindAuthentication:
		return http.StatusBadRequest
	case interfaces.KindAuthorization:
		return http.StatusUnauthorized
	case interfaces.KindNotFound:
		return http.StatusNotFound
	case interfaces.KindStateConflict:
		return http.StatusConflict
	case interfaces.KindVerification:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err, "path", r.URL.Path, "participant", participant(r))
		http.Error(w, "internal server error", status)
		return
	}
	h.log.Debug("Request rejected", "err", err, "path", r.URL.Path, "participant", participant(r))
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func participant(r *http.Request) string {
	id, _ := auth.ParticipantFrom(r.Context())
	return id
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
