package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/deskline/mailsync/internal/db"
	"github.com/deskline/mailsync/internal/models"
	log "github.com/sirupsen/logrus"
)

type RepairService interface {
	Request(ctx context.Context, messageID string) (bool, error)
	Status(ctx context.Context, messageID string) (models.RepairStatus, error)
}

// RepairHandler starts and polls media repairs.
type RepairHandler struct {
	repairs RepairService
}

func NewRepairHandler(repairs RepairService) *RepairHandler {
	return &RepairHandler{repairs: repairs}
}

type repairStarted struct {
	Status  models.RepairState `json:"status"`
	Message string             `json:"message,omitempty"`
}

// PostRepair queues a repair. A second request while one is running gets
// the same processing answer without queuing another job.
func (h *RepairHandler) PostRepair(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	started, err := h.repairs.Request(r.Context(), id)
	if errors.Is(err, db.ErrMessageNotFound) {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.WithError(err).WithField("message_id", id).Error("api_repair_request_failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !started {
		WriteJSONResponse(w, repairStarted{Status: models.RepairProcessing, Message: "repair already in progress"})
		return
	}
	WriteJSONStatus(w, http.StatusAccepted, repairStarted{Status: models.RepairProcessing})
}

// GetRepair reports the newest repair's state. Unknown ids are idle.
func (h *RepairHandler) GetRepair(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	st, err := h.repairs.Status(r.Context(), id)
	if err != nil {
		log.WithError(err).WithField("message_id", id).Error("api_repair_status_failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	WriteJSONResponse(w, st)
}
