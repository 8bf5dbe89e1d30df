// README: Order handlers: checkout, vendor decision, dispatch replies and courier steps.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodhub/internal/http/middleware"
	"foodhub/internal/logger"
	"foodhub/internal/modules/dispatch"
	"foodhub/internal/modules/order"
	"foodhub/internal/types"
)

// Dispatcher is the part of dispatch.Service the order routes drive.
type Dispatcher interface {
	Dispatch(ctx context.Context, orderID types.ID) (*dispatch.Result, error)
	Accept(ctx context.Context, partnerID, orderID types.ID) (*order.Order, error)
	Decline(ctx context.Context, partnerID, orderID types.ID) (*order.DeclineResult, error)
}

type OrderHandler struct {
	order    *order.Service
	dispatch Dispatcher
	log      logger.Logger
}

func NewOrderHandler(svc *order.Service, d Dispatcher, log logger.Logger) *OrderHandler {
	return &OrderHandler{order: svc, dispatch: d, log: log}
}

type createOrderReq struct {
	VendorID        types.ID      `json:"vendorId"`
	Items           []order.Item  `json:"items"`
	DeliveryAddress types.Address `json:"deliveryAddress"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if !bind(c, &req) {
		return
	}
	if !isValidID(string(req.VendorID)) || len(req.Items) == 0 {
		badRequest(c, "missing fields")
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:      middleware.CallerUID(c),
		VendorID:        req.VendorID,
		Items:           req.Items,
		DeliveryAddress: req.DeliveryAddress,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.GetFor(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// MarkPaid is the payment confirmation hook; admin only.
func (h *OrderHandler) MarkPaid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.order.MarkPaid(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type acceptResp struct {
	Order    *order.Order     `json:"order"`
	Dispatch *dispatch.Result `json:"dispatch,omitempty"`
	// DispatchError is set when the order was accepted but no offer went out.
	DispatchError string `json:"dispatchError,omitempty"`
}

// Accept records the vendor's acceptance and starts dispatch right away.
// A dispatch failure leaves the order ACCEPTED and is reported, not returned as an error.
func (h *OrderHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	o, err := h.order.VendorDecide(ctx, order.DecideCommand{OrderID: id, Actor: middleware.Actor(c), Accept: true})
	if err != nil {
		writeError(c, err)
		return
	}
	resp := acceptResp{Order: o}
	res, err := h.dispatch.Dispatch(ctx, id)
	switch {
	case err == nil:
		resp.Order = res.Order
		resp.Dispatch = res
	case errors.Is(err, dispatch.ErrNoPartnersAvailable):
		resp.DispatchError = err.Error()
	default:
		h.log.Warn("dispatch after vendor accept failed", "order_id", id, "error", err)
		resp.DispatchError = "dispatch failed"
	}
	writeJSON(c, http.StatusOK, resp)
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Reject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	o, err := h.order.VendorDecide(c.Request.Context(), order.DecideCommand{
		OrderID: id, Actor: middleware.Actor(c), Reason: req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// Dispatch (re)starts partner search for an ACCEPTED, AWAITING_PARTNER or
// REASSIGNMENT_NEEDED order. The order's vendor or an admin may call it.
func (h *OrderHandler) Dispatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.order.GetFor(ctx, id, middleware.Actor(c)); err != nil {
		writeError(c, err)
		return
	}
	res, err := h.dispatch.Dispatch(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *OrderHandler) AcceptDispatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := h.dispatch.Accept(c.Request.Context(), middleware.CallerUID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) DeclineDispatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.dispatch.Decline(c.Request.Context(), middleware.CallerUID(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order": res.Order, "remaining": res.Remaining})
}

func (h *OrderHandler) Release(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	o, err := h.order.ReleaseAssignment(c.Request.Context(), order.ReleaseCommand{
		OrderID: id, Actor: middleware.Actor(c), Reason: req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type statusReq struct {
	Status order.Status `json:"status"`
	Reason string       `json:"reason"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if !bind(c, &req) {
		return
	}
	if req.Status == "" {
		badRequest(c, "missing status")
		return
	}
	o, err := h.order.UpdateStatus(c.Request.Context(), order.StatusCommand{
		OrderID: id, To: req.Status, Actor: middleware.Actor(c), Reason: req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID: id, Actor: middleware.Actor(c), Reason: req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}
