package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"reseller-billing/pkg/errutil"
	"reseller-billing/pkg/task"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Handler struct {
	status   StatusReader
	runs     RunReader
	wallets  WalletReader
	enqueuer task.Enqueuer
}

type HandlerParams struct {
	fx.In
	Status   StatusReader
	Runs     RunReader
	Wallets  WalletReader
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		status:   p.Status,
		runs:     p.Runs,
		wallets:  p.Wallets,
		enqueuer: p.Enqueuer,
	}
}

// Status answers the observability query for the latest completed cycle.
func (h *Handler) Status(c *gin.Context) {
	st, err := h.status.Status(c.Request.Context())
	if err != nil {
		_ = c.Error(errutil.Unavailable("billing status unavailable", err))
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = c.Error(errutil.BadRequest("invalid query", err, errutil.WithDetails(errutil.Detail{
				Field:   "limit",
				Message: "must be a positive integer",
			})))
			return
		}
		limit = n
	}

	runs, err := h.runs.Runs(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(errutil.Internal("list billing runs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *Handler) ListRecords(c *gin.Context) {
	records, err := h.runs.Records(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		_ = c.Error(errutil.Internal("list billing records", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type triggerRunRequest struct {
	RequestedBy string `json:"requested_by" binding:"required"`
	Reason      string `json:"reason"`
}

// TriggerRun enqueues a manual cycle for the panel's worker. The cycle itself
// runs asynchronously; poll /v1/billing/runs for the outcome.
func (h *Handler) TriggerRun(c *gin.Context) {
	if h.enqueuer == nil {
		_ = c.Error(errutil.Unavailable("manual billing trigger is not available on this process", nil))
		return
	}

	var req triggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	t, err := task.NewBillingCycleTask(task.BillingCyclePayload{
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		_ = c.Error(errutil.Internal("build billing task", err))
		return
	}

	info, err := h.enqueuer.Enqueue(c.Request.Context(), t)
	if err != nil {
		_ = c.Error(errutil.Unavailable("enqueue billing task", err))
		return
	}

	zap.L().Info("manual billing cycle enqueued",
		zap.String("task_id", info.ID),
		zap.String("requested_by", req.RequestedBy),
	)
	c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID, "queue": info.Queue})
}

type walletResponse struct {
	OrganizationID string          `json:"organization_id"`
	Balance        decimal.Decimal `json:"balance"`
	Currency       string          `json:"currency"`
	Entries        int64           `json:"entries"`
	Consistent     bool            `json:"consistent"`
	ChainValid     bool            `json:"chain_valid"`
}

func (h *Handler) GetWallet(c *gin.Context) {
	ctx := c.Request.Context()
	orgID := c.Param("organization_id")

	account, err := h.wallets.GetAccount(ctx, orgID)
	if err != nil {
		_ = c.Error(errutil.Internal("load wallet", err))
		return
	}
	if account == nil {
		_ = c.Error(errutil.NotFound("wallet not found", nil))
		return
	}

	report, err := h.wallets.Reconcile(ctx, orgID)
	if err != nil {
		_ = c.Error(errutil.Internal("reconcile wallet", err))
		return
	}
	valid, err := h.wallets.VerifyChain(ctx, orgID)
	if err != nil {
		_ = c.Error(errutil.Internal("verify ledger chain", err))
		return
	}

	c.JSON(http.StatusOK, walletResponse{
		OrganizationID: orgID,
		Balance:        account.Balance,
		Currency:       account.Currency,
		Entries:        report.Entries,
		Consistent:     report.Consistent,
		ChainValid:     valid,
	})
}

func (h *Handler) ListEntries(c *gin.Context) {
	entries, err := h.wallets.ListEntries(c.Request.Context(), c.Param("organization_id"))
	if err != nil {
		_ = c.Error(errutil.Internal("list ledger entries", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
