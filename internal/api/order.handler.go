package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payment-settlement/internal/domain"
	"payment-settlement/internal/service"
)

type processRequest struct {
	// Override lets staff start fulfilment on an unpaid (cash on delivery) order.
	Override bool `json:"override"`
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number"`
	Courier        string `json:"courier"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var in service.CreateOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid order payload"})
		return
	}

	order, err := s.deps.Orders.CreateOrder(c.Request.Context(), in)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": order})
}

func (s *Server) handleGetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := s.deps.Orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
}

func (s *Server) handleProcess(c *gin.Context) {
	var req processRequest
	if !bindOptional(c, &req) {
		return
	}
	s.transition(c, domain.TransitionRequest{Target: domain.OrderProcessing, AdminOverride: req.Override})
}

func (s *Server) handleShip(c *gin.Context) {
	var req shipRequest
	if !bindOptional(c, &req) {
		return
	}
	s.transition(c, domain.TransitionRequest{
		Target:         domain.OrderShipped,
		TrackingNumber: req.TrackingNumber,
		Courier:        req.Courier,
	})
}

func (s *Server) handleDeliver(c *gin.Context) {
	s.transition(c, domain.TransitionRequest{Target: domain.OrderDelivered})
}

func (s *Server) handleCancel(c *gin.Context) {
	var req cancelRequest
	if !bindOptional(c, &req) {
		return
	}
	s.transition(c, domain.TransitionRequest{Target: domain.OrderCancelled, Reason: req.Reason})
}

func (s *Server) transition(c *gin.Context, req domain.TransitionRequest) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := s.deps.Orders.Transition(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	s.logger.Info("order transitioned", "order_id", id, "status", order.Status, "admin", c.GetString("admin"))
	c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "order id must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body"})
		return false
	}
	return true
}
