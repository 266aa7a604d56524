package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/quizforge/billing/internal/app/service/eventlog"
	"github.com/quizforge/billing/internal/models"
	"github.com/quizforge/billing/pkg/logctx"
	"github.com/quizforge/billing/pkg/response"
	"github.com/quizforge/billing/pkg/types"
)

type AdminHandler struct {
	events *eventlog.Service
	log    *zap.SugaredLogger
}

func NewAdminHandler(events *eventlog.Service, log *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{events: events, log: log}
}

type ScanEventLogsRequest struct {
	EventType   string `form:"event_type"`
	CustomerRef string `form:"customer_ref"`
	Status      string `form:"status"`
	From        int    `form:"from"`
	Size        int    `form:"size"`
}

type EventLogItem struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	CustomerRef *string   `json:"customer_ref"`
	Status      string    `json:"status"`
	EventTime   time.Time `json:"event_time"`
	TraceID     string    `json:"trace_id"`
}

type ScanEventLogsResponse struct {
	Items []*EventLogItem `json:"items"`
	Total int64           `json:"total"`
}

// @Summary      List billing event logs
// @Description  Paginated audit trail of received provider events
// @Tags         Admin
// @Produce      json
// @Param        event_type    query  string  false  "Filter by event type"
// @Param        customer_ref  query  string  false  "Filter by customer ref"
// @Param        status        query  string  false  "Filter by handling status"
// @Param        from          query  int     false  "Offset"
// @Param        size          query  int     false  "Page size"
// @Success      200  {object}  response.APIResponse[ScanEventLogsResponse]
// @Failure      400  {object}  response.APIResponse[string]
// @Router       /api/v1/admin/billing/events [get]
func (h *AdminHandler) ScanEventLogs(c *gin.Context) {
	var req ScanEventLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorT(response.APIResponseCodeBadRequest, err.Error()))
		return
	}

	var filters []*types.CommonFilter
	if req.EventType != "" {
		filters = append(filters, &types.CommonFilter{Field: "event_type", Operator: types.CommonFilterOperatorEq, Values: []any{req.EventType}})
	}
	if req.CustomerRef != "" {
		filters = append(filters, &types.CommonFilter{Field: "customer_ref", Operator: types.CommonFilterOperatorEq, Values: []any{req.CustomerRef}})
	}
	if req.Status != "" {
		filters = append(filters, &types.CommonFilter{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{req.Status}})
	}

	res, err := h.events.Scan(c.Request.Context(), &eventlog.ScanRequest{
		Filters: filters,
		From:    req.From,
		Size:    req.Size,
		SortBy:  "event_time",
	})
	if err != nil {
		logctx.FromGin(c, h.log).Errorf("failed to scan event logs: %v", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT(response.APIResponseCodeError, err.Error()))
		return
	}

	items := lo.Map(res.Items, func(e *models.BillingEventLog, _ int) *EventLogItem {
		return &EventLogItem{
			ID:          e.ID,
			EventID:     e.EventID,
			EventType:   e.EventType,
			CustomerRef: e.CustomerRef,
			Status:      string(e.Status),
			EventTime:   e.EventTime,
			TraceID:     e.TraceID,
		}
	})
	c.JSON(http.StatusOK, response.OKT(&ScanEventLogsResponse{Items: items, Total: res.Total}))
}

func RegisterAdminRoutes(r gin.IRouter, h *AdminHandler) {
	r.GET("/billing/events", h.ScanEventLogs)
}
