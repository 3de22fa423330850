package handlers

import (
	"context"
	"net/http"

	"github.com/diewo77/go-pos/auth"
	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
	"github.com/diewo77/go-pos/internal/models"
	"github.com/diewo77/go-pos/internal/services"
	"go.uber.org/zap"
)

type SaleHandler struct {
	ledger *services.LedgerService
	gate   Authorizer
	log    *zap.Logger
}

func NewSaleHandler(ledger *services.LedgerService, az Authorizer, log *zap.Logger) *SaleHandler {
	return &SaleHandler{ledger: ledger, gate: az, log: log}
}

type createSaleRequest struct {
	PaymentMethod string               `json:"payment_method"`
	Lines         []services.LineInput `json:"lines"`
}

type openAccountRequest struct {
	TableID *uint   `json:"table_id"`
	Name    *string `json:"name"`
}

type linesRequest struct {
	Lines []services.LineInput `json:"lines"`
}

type closeAccountRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// Create records an immediate, already settled sale.
func (h *SaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req createSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	sale, err := h.ledger.CreateImmediateSale(r.Context(), id, req.PaymentMethod, req.Lines)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *SaleHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	sales, err := h.ledger.List(r.Context(), id, httpx.QueryInt(r, "skip", 0), httpx.QueryInt(r, "limit", 100))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sales)
}

func (h *SaleHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	sales, err := h.ledger.ListOpen(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sales)
}

// Open starts a tab. The body is optional.
func (h *SaleHandler) Open(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req openAccountRequest
	if hasBody(r) {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeServiceError(w, h.log, err)
			return
		}
	}
	sale, err := h.ledger.OpenAccount(r.Context(), id, services.OpenAccountInput{TableID: req.TableID, Name: req.Name})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *SaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	saleID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return
	}
	sale, err := h.ledger.Get(r.Context(), id, saleID)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	if err := h.gate.Authorize(r.Context(), gate.ActionView, "sale", sale); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *SaleHandler) AddLines(w http.ResponseWriter, r *http.Request) {
	h.mutateLines(w, r, h.ledger.AddLines)
}

func (h *SaleHandler) ReplaceLines(w http.ResponseWriter, r *http.Request) {
	h.mutateLines(w, r, h.ledger.ReplaceLines)
}

type linesOp func(ctx context.Context, caller auth.Identity, saleID uint, lines []services.LineInput) (*models.Sale, error)

func (h *SaleHandler) mutateLines(w http.ResponseWriter, r *http.Request, op linesOp) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	saleID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return
	}
	var req linesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	sale, err := op(r.Context(), id, saleID, req.Lines)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

// Close settles a tab. The payment method defaults to cash.
func (h *SaleHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	saleID, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, "id")
		return
	}
	var req closeAccountRequest
	if hasBody(r) {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeServiceError(w, h.log, err)
			return
		}
	}
	sale, err := h.ledger.CloseAccount(r.Context(), id, saleID, req.PaymentMethod)
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}
