package httpapi

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"ibbridge/internal/model"
	"ibbridge/pkg/exception"
	"ibbridge/pkg/validate"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func (s *Server) health(c *gin.Context) {
	state := s.bridge.State()
	code := http.StatusOK
	if !state.IsUp() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"state": state})
}

func (s *Server) metrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.bridge.Metrics())
}

func (s *Server) positions(c *gin.Context) {
	c.JSON(http.StatusOK, s.bridge.Positions())
}

// GET /account?account=DU1
func (s *Server) account(c *gin.Context) {
	ctx := c.Request.Context()
	acct := c.Query("account")

	cash, err := s.bridge.AccountCash(ctx, acct)
	if err != nil {
		fail(c, err)
		return
	}
	netLiq, err := s.bridge.AccountValue(ctx, acct)
	if err != nil {
		fail(c, err)
		return
	}
	values, err := s.bridge.AccountValues(ctx, acct)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cash": cash, "netLiquidation": netLiq, "values": values})
}

func (s *Server) notifications(c *gin.Context) {
	notes := s.bridge.Notifications()
	if notes == nil {
		notes = []model.Notification{}
	}
	c.JSON(http.StatusOK, notes)
}

func (s *Server) liveOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.bridge.LiveOrders())
}

func (s *Server) order(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, found := s.bridge.Order(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

// POST /orders
func (s *Server) submitOrder(c *gin.Context) {
	var req model.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Get().Struct(req); err != nil {
		var fields validator.ValidationErrors
		if stderrors.As(err, &fields) {
			c.JSON(http.StatusBadRequest, gin.H{"validation_errors": validate.FieldMap(fields)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	o, err := s.bridge.SubmitOrder(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// DELETE /orders/:id
func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	if err := s.bridge.CancelOrder(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

func fail(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case stderrors.Is(err, exception.ErrInvalidArgument),
		stderrors.Is(err, exception.ErrOrderInvalidRequest),
		stderrors.Is(err, exception.ErrOrderUnknownParent),
		stderrors.Is(err, exception.ErrOrderUnknownOCAReferent):
		return http.StatusBadRequest
	case stderrors.Is(err, exception.ErrOrderUnknown):
		return http.StatusNotFound
	case stderrors.Is(err, exception.ErrOrderTerminal),
		stderrors.Is(err, exception.ErrOrderDuplicate):
		return http.StatusConflict
	case stderrors.Is(err, exception.ErrPermanentlyFailed),
		stderrors.Is(err, exception.ErrRetriesExhausted),
		stderrors.Is(err, exception.ErrNotConnected),
		stderrors.Is(err, exception.ErrOrderIDNotAnnounced),
		stderrors.Is(err, exception.ErrManagedAccountWait):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
