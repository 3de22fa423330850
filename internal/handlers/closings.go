package handlers

import (
	"net/http"

	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/services"
	"go.uber.org/zap"
)

type ClosingHandler struct {
	closings *services.ClosingService
	gate     Authorizer
	log      *zap.Logger
}

func NewClosingHandler(closings *services.ClosingService, az Authorizer, log *zap.Logger) *ClosingHandler {
	return &ClosingHandler{closings: closings, gate: az, log: log}
}

// CreateX records a read-only X report.
func (h *ClosingHandler) CreateX(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, models.ClosingX, http.StatusCreated)
}

// CreateZ records a Z report and deletes the sales it covers.
func (h *ClosingHandler) CreateZ(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, models.ClosingZ, http.StatusOK)
}

func (h *ClosingHandler) create(w http.ResponseWriter, r *http.Request, typ models.ClosingType, status int) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	closing, err := h.closings.CreateClosing(r.Context(), id, typ)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, status, closing)
}

func (h *ClosingHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	closings, err := h.closings.ListClosings(r.Context(), id, httpx.QueryInt(r, "skip", 0), httpx.QueryInt(r, "limit", 100))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closings)
}

func (h *ClosingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	closingID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return
	}
	closing, err := h.closings.GetClosing(r.Context(), id, closingID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if err := h.gate.Authorize(r.Context(), gate.ActionView, "closing", closing); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closing)
}
