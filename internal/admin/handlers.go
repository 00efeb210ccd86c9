package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"jobboard/internal/queue"
	"jobboard/internal/types"
)

type purgeResponse struct {
	Queue  string `json:"queue"`
	Purged int    `json:"purged"`
}

type enqueueRequest struct {
	Type queue.JobKind   `json:"type"`
	Data json.RawMessage `json:"data"`
}

type enqueueResponse struct {
	ID        string        `json:"id"`
	Type      queue.JobKind `json:"type"`
	Queue     string        `json:"queue"`
	CreatedAt time.Time     `json:"createdAt"`
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	infos, err := s.Queues.ListQueues(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: infos})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	info, err := s.Queues.GetQueueInfo(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: info})
}

func (s *Server) handlePurgeQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	n, err := s.Queues.PurgeQueue(r.Context(), name)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: purgeResponse{Queue: name, Purged: n}})
}

// handleEnqueue accepts {"type": ..., "data": {...}}. It answers 202 once the
// broker accepted the job, 400 for an invalid job and 503 when the publish
// failed.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if req.Type == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationRequired, "type is required", nil))
		return
	}

	env, ok, err := s.Jobs.EnqueueRaw(r.Context(), req.Type, req.Data)
	if err != nil {
		Error(w, r, err)
		return
	}
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeBrokerUnavailable, "job was not accepted by the broker", nil))
		return
	}

	queueName, _ := queue.KindQueue(env.Type)
	JSON(w, r, http.StatusAccepted, APIResponse{Data: enqueueResponse{
		ID:        env.ID,
		Type:      env.Type,
		Queue:     queueName,
		CreatedAt: env.CreatedAt,
	}})
}
