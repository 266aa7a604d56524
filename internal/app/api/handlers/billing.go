package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quizforge/billing/internal/app/service/planchange"
	"github.com/quizforge/billing/internal/app/service/snapshot"
	"github.com/quizforge/billing/pkg/logctx"
	"github.com/quizforge/billing/pkg/response"
	"github.com/quizforge/billing/pkg/types"
)

type BillingHandler struct {
	resolver *snapshot.Resolver
	orch     *planchange.Orchestrator
	log      *zap.SugaredLogger
}

func NewBillingHandler(resolver *snapshot.Resolver, orch *planchange.Orchestrator, log *zap.SugaredLogger) *BillingHandler {
	return &BillingHandler{resolver: resolver, orch: orch, log: log}
}

type PlanChangeRequest struct {
	Plan     types.PlanID          `json:"plan" binding:"required"`
	Interval types.BillingInterval `json:"interval"`
	// Immediate applies the change now instead of at period end. Only honored
	// for downgrades.
	Immediate bool `json:"immediate"`
}

func (req *PlanChangeRequest) interval() types.BillingInterval {
	if req.Interval == "" {
		return types.BillingIntervalMonth
	}
	return req.Interval
}

// @Summary      Get subscription snapshot
// @Description  Resolves the user's current subscription state, cache-first
// @Tags         Billing
// @Produce      json
// @Param        user_id  path  string  true  "User ID"
// @Success      200  {object}  response.APIResponse[types.SubscriptionSnapshot]
// @Failure      500  {object}  response.APIResponse[string]
// @Router       /api/v1/billing/{user_id}/snapshot [get]
func (h *BillingHandler) GetSnapshot(c *gin.Context) {
	userID := c.Param("user_id")
	snap, err := h.resolver.Resolve(c.Request.Context(), userID)
	if err != nil {
		logctx.FromGin(c, h.log).Errorf("failed to resolve snapshot: %v", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(snap))
}

// @Summary      Upgrade plan
// @Description  Switches the subscription to a higher tier immediately with proration
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        user_id  path  string             true  "User ID"
// @Param        body     body  PlanChangeRequest  true  "Target plan"
// @Success      200  {object}  response.APIResponse[types.ChangeResult]
// @Failure      400  {object}  response.APIResponse[string]
// @Router       /api/v1/billing/{user_id}/upgrade [post]
func (h *BillingHandler) Upgrade(c *gin.Context) {
	var req PlanChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	result := h.orch.Upgrade(c.Request.Context(), c.Param("user_id"), req.Plan, req.interval())
	c.JSON(http.StatusOK, response.OKT(result))
}

// @Summary      Downgrade plan
// @Description  Schedules a switch to a lower tier at period end, or applies it now when immediate is set
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        user_id  path  string             true  "User ID"
// @Param        body     body  PlanChangeRequest  true  "Target plan"
// @Success      200  {object}  response.APIResponse[types.ChangeResult]
// @Failure      400  {object}  response.APIResponse[string]
// @Router       /api/v1/billing/{user_id}/downgrade [post]
func (h *BillingHandler) Downgrade(c *gin.Context) {
	var req PlanChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	result := h.orch.Downgrade(c.Request.Context(), c.Param("user_id"), req.Plan, req.interval(), req.Immediate)
	c.JSON(http.StatusOK, response.OKT(result))
}

// @Summary      Cancel subscription
// @Description  Schedules cancellation at the end of the current period
// @Tags         Billing
// @Produce      json
// @Param        user_id  path  string  true  "User ID"
// @Success      200  {object}  response.APIResponse[types.ChangeResult]
// @Router       /api/v1/billing/{user_id}/cancel [post]
func (h *BillingHandler) Cancel(c *gin.Context) {
	result := h.orch.Cancel(c.Request.Context(), c.Param("user_id"))
	c.JSON(http.StatusOK, response.OKT(result))
}

// @Summary      Reactivate subscription
// @Description  Clears a pending period-end cancellation
// @Tags         Billing
// @Produce      json
// @Param        user_id  path  string  true  "User ID"
// @Success      200  {object}  response.APIResponse[types.ChangeResult]
// @Router       /api/v1/billing/{user_id}/reactivate [post]
func (h *BillingHandler) Reactivate(c *gin.Context) {
	result := h.orch.Reactivate(c.Request.Context(), c.Param("user_id"))
	c.JSON(http.StatusOK, response.OKT(result))
}

// @Summary      Preview upgrade cost
// @Description  Quotes the unused-time credit and net amount due for an upgrade
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        user_id  path  string             true  "User ID"
// @Param        body     body  PlanChangeRequest  true  "Target plan"
// @Success      200  {object}  response.APIResponse[planchange.UpgradePreview]
// @Failure      400  {object}  response.APIResponse[string]
// @Router       /api/v1/billing/{user_id}/preview_upgrade [post]
func (h *BillingHandler) PreviewUpgrade(c *gin.Context) {
	var req PlanChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	preview, err := h.orch.PreviewUpgrade(c.Request.Context(), c.Param("user_id"), req.Plan, req.interval())
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.OKT(preview))
}

func RegisterBillingRoutes(r gin.IRouter, h *BillingHandler) {
	g := r.Group("/billing/:user_id")
	g.GET("/snapshot", h.GetSnapshot)
	g.POST("/upgrade", h.Upgrade)
	g.POST("/downgrade", h.Downgrade)
	g.POST("/cancel", h.Cancel)
	g.POST("/reactivate", h.Reactivate)
	g.POST("/preview_upgrade", h.PreviewUpgrade)
}
