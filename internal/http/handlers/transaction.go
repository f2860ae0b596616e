package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/subgate-microservice/subgate-sub000/internal/data/changelog"
	"github.com/subgate-microservice/subgate-sub000/internal/data/uow"
	"github.com/subgate-microservice/subgate-sub000/internal/http/response"
	apperrors "github.com/subgate-microservice/subgate-sub000/internal/pkg/errors"
	"github.com/subgate-microservice/subgate-sub000/internal/pkg/logger"
)

// TransactionHandler serves the admin view of the unit of work log.
type TransactionHandler struct {
	log  *logger.Logger
	uows *uow.Factory
}

func NewTransactionHandler(log *logger.Logger, uows *uow.Factory) *TransactionHandler {
	return &TransactionHandler{log: log.With("handler", "TransactionHandler"), uows: uows}
}

type transactionView struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Cursor        int64     `json:"cursor"`
	LogCount      int64     `json:"log_count"`
	RolledBack    bool      `json:"rolled_back"`
}

type listTransactionsResponse struct {
	Transactions []transactionView `json:"transactions"`
	NextBefore   int64             `json:"next_before,omitempty"`
}

// GET /api/transactions?limit=&before=
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	before, err := queryInt(c, "before", 0)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	rows, err := h.uows.Store().ListTransactions(c.Request.Context(), nil, limit, int64(before))
	if err != nil {
		h.log.Error("ListTransactions failed", "error", err)
		response.RespondAppError(c, uow.MapError("api.list_transactions", err))
		return
	}
	out := listTransactionsResponse{Transactions: make([]transactionView, 0, len(rows))}
	for _, r := range rows {
		out.Transactions = append(out.Transactions, transactionView{
			TransactionID: r.TransactionID,
			Cursor:        r.FirstID,
			LogCount:      r.LogCount,
			RolledBack:    r.RolledBack(),
		})
	}
	if len(rows) > 0 && len(rows) == effectiveLimit(limit) {
		out.NextBefore = rows[len(rows)-1].FirstID
	}
	response.RespondOK(c, out)
}

// GET /api/transactions/:id/logs
func (h *TransactionHandler) ListLogs(c *gin.Context) {
	txID, err := transactionIDParam(c)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	logs, err := h.uows.Store().ByTransactionID(c.Request.Context(), nil, txID)
	if err != nil {
		h.log.Error("ListLogs failed", "transaction_id", txID, "error", err)
		response.RespondAppError(c, uow.MapError("api.list_logs", err))
		return
	}
	if len(logs) == 0 {
		response.RespondAppError(c, uow.MapError("api.list_logs", &apperrors.NotFoundError{
			Entity: "transaction", Value: txID.String(),
		}))
		return
	}
	response.RespondOK(c, gin.H{"transaction_id": txID, "logs": logs})
}

type rollbackResponse struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Compensations []changelog.Log `json:"compensations"`
}

// POST /api/transactions/:id/rollback
//
// Rolling back a transaction twice answers with the compensations of the
// first rollback.
func (h *TransactionHandler) Rollback(c *gin.Context) {
	txID, err := transactionIDParam(c)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	ctx := c.Request.Context()
	u, err := h.uows.ForTransaction(ctx, txID)
	if err != nil {
		response.RespondAppError(c, uow.MapError("api.rollback", err))
		return
	}
	defer func() { _ = u.Close() }()

	if err := u.Rollback(ctx); err != nil {
		h.log.Error("Rollback failed", "transaction_id", txID, "error", err)
		response.RespondAppError(c, uow.MapError("api.rollback", err))
		return
	}
	logs, err := h.uows.Store().ByTransactionID(ctx, nil, txID)
	if err != nil {
		response.RespondAppError(c, uow.MapError("api.rollback", err))
		return
	}
	if len(logs) == 0 {
		response.RespondAppError(c, uow.MapError("api.rollback", &apperrors.NotFoundError{
			Entity: "transaction", Value: txID.String(),
		}))
		return
	}
	out := rollbackResponse{TransactionID: txID, Compensations: []changelog.Log{}}
	for _, l := range logs {
		if l.Action.IsRollback() {
			out.Compensations = append(out.Compensations, l)
		}
	}
	h.log.Info("Transaction rolled back via admin api", "transaction_id", txID, "compensations", len(out.Compensations))
	response.RespondOK(c, out)
}

// DELETE /api/transactions?before=RFC3339
func (h *TransactionHandler) Purge(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("before"))
	cutoff, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.RespondAppError(c, apperrors.Wrap(apperrors.CodeValidation, "api.purge",
			fmt.Errorf("%w: before must be an RFC3339 time", apperrors.ErrInvalidArgument)))
		return
	}
	n, err := h.uows.Store().PurgeBefore(c.Request.Context(), nil, cutoff)
	if err != nil {
		h.log.Error("Purge failed", "cutoff", cutoff, "error", err)
		response.RespondAppError(c, uow.MapError("api.purge", err))
		return
	}
	response.RespondOK(c, gin.H{"deleted": n})
}

func transactionIDParam(c *gin.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apperrors.Wrap(apperrors.CodeValidation, "api.transaction_id",
			fmt.Errorf("%w: invalid transaction id", apperrors.ErrInvalidArgument))
	}
	return id, nil
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.Wrap(apperrors.CodeValidation, "api.query",
			fmt.Errorf("%w: %s must be a non-negative integer", apperrors.ErrInvalidArgument, key))
	}
	return v, nil
}

// effectiveLimit mirrors the clamping of the log store.
func effectiveLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
