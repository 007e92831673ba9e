package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustysats/orangemart"
	model2 "github.com/rustysats/orangemart/api/model"
	"github.com/rustysats/orangemart/internal/apierror"
)

// BuyCurrency admits a currency purchase and returns the invoice to pay.
func (a Api) BuyCurrency(c *gin.Context) {
	var req model2.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateBuyRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := a.engine.BuyCurrency(c.Request.Context(), orangemart.Actor{ID: req.ActorID, Name: req.ActorName}, req.Units)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// BuyVip admits a VIP purchase at the configured flat price.
func (a Api) BuyVip(c *gin.Context) {
	var req model2.VipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateVipRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := a.engine.BuyVip(c.Request.Context(), orangemart.Actor{ID: req.ActorID, Name: req.ActorName})
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// SendCurrency admits an outbound payment to a Lightning address.
func (a Api) SendCurrency(c *gin.Context) {
	var req model2.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateSendRequest(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := a.engine.SendCurrency(c.Request.Context(), orangemart.Actor{ID: req.ActorID, Name: req.ActorName}, req.Units, req.LightningAddress)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// RefundSend marks a settled outbound payment refunded and returns the units.
func (a Api) RefundSend(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /refund-send/:id"})
		return
	}
	if err := a.engine.RefundSell(id); err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refunded": id})
}

func (a Api) renderError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
