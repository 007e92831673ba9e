package api

import (
	"github.com/gin-gonic/gin"

	"github.com/rustysats/orangemart"
	"github.com/rustysats/orangemart/api/middleware"
	"github.com/rustysats/orangemart/config"
)

type Api struct {
	engine *orangemart.Orangemart
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/buy", a.BuyCurrency)
	router.POST("/buy-vip", a.BuyVip)
	router.POST("/send", a.SendCurrency)
	router.POST("/refund-send/:id", a.RefundSend)

	router.GET("/limits", a.GetLimits)
	router.GET("/transactions/buys", a.GetBuyTransactions)
	router.GET("/transactions/sells", a.GetSellTransactions)
	router.GET("/pending/:actor_id", a.GetPending)
	return a.router
}

func NewAPI(engine *orangemart.Orangemart) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{engine: engine, router: r}
}
