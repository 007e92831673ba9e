package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rustysats/orangemart/config"
)

// GetLimits exposes the admission rules so clients can validate before
// submitting.
func (a Api) GetLimits(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"currency_name":         conf.Currency.Name,
		"sats_per_unit":         conf.Currency.SatsPerUnit,
		"price_per_unit":        conf.Currency.PricePerUnit,
		"max_purchase_amount":   conf.Currency.MaxPurchaseAmount,
		"max_send_amount":       conf.Currency.MaxSendAmount,
		"cooldown_seconds":      conf.Currency.CooldownSeconds,
		"max_pending_per_actor": conf.Currency.MaxPendingPerActor,
		"vip_price_sats":        conf.Vip.PriceSats,
	})
}

func (a Api) GetBuyTransactions(c *gin.Context) {
	buys, err := a.engine.ListBuys()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, buys)
}

func (a Api) GetSellTransactions(c *gin.Context) {
	sells, err := a.engine.ListSells()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sells)
}

// GetPending reports how many invoices an actor has in flight.
func (a Api) GetPending(c *gin.Context) {
	actorID, passed := c.Params.Get("actor_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id is required. pass id in the route /pending/:actor_id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor_id": actorID, "pending": a.engine.PendingCount(actorID)})
}
