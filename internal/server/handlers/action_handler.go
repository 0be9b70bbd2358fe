package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/server/middleware"
)

// Dispatcher executes action envelopes on behalf of a principal.
type Dispatcher interface {
	Dispatch(ctx context.Context, actor models.Principal, req models.ActionRequest) models.ActionResponse
}

// ActionHandler adapts HTTP requests to the action dispatcher.
type ActionHandler struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *zap.Logger
}

// NewActionHandler constructs the HTTP handler adapter.
func NewActionHandler(dispatcher Dispatcher, timeout time.Duration, logger *zap.Logger) *ActionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActionHandler{dispatcher: dispatcher, timeout: timeout, logger: logger}
}

// Handle executes the action envelope posted in the request body.
func (h *ActionHandler) Handle(c *gin.Context) {
	var req models.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid action envelope", zap.Error(err))
		c.JSON(http.StatusBadRequest, models.ActionResponse{
			Error: &models.ActionError{Code: string(apperrors.CodeValidation), Message: "invalid request body"},
		})
		return
	}

	h.dispatch(c, req)
}

// BatchCost is a read-only shortcut for calculate_batch_cost.
func (h *ActionHandler) BatchCost(c *gin.Context) {
	payload, err := json.Marshal(models.BatchCostPayload{BatchID: c.Param("id")})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ActionResponse{
			Error: &models.ActionError{Code: string(apperrors.CodeUnknown), Message: "unable to build request"},
		})
		return
	}

	h.dispatch(c, models.ActionRequest{Action: models.ActionCalculateBatchCost, Payload: payload})
}

func (h *ActionHandler) dispatch(c *gin.Context, req models.ActionRequest) {
	actor, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ActionResponse{
			Error: &models.ActionError{Code: "UNAUTHORIZED", Message: "caller identity missing"},
		})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	resp := h.dispatcher.Dispatch(ctx, actor, req)
	status := http.StatusOK
	if resp.Error != nil {
		status = apperrors.HTTPStatus(apperrors.Code(resp.Error.Code))
		_ = c.Error(&actionError{code: resp.Error.Code, message: resp.Error.Message})
	}
	c.JSON(status, resp)
}

type actionError struct {
	code    string
	message string
}

func (e *actionError) Error() string { return e.code + ": " + e.message }
