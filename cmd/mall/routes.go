package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mall-system/config"
	"mall-system/internal/database"
	"mall-system/internal/events"
	"mall-system/internal/gateway/handlers"
	"mall-system/internal/gateway/middleware"
	"mall-system/internal/services/box"
	"mall-system/internal/services/cart"
	"mall-system/internal/services/catalog"
	"mall-system/internal/services/checkout"
	"mall-system/internal/services/inventory"
	"mall-system/internal/services/lease"
	"mall-system/internal/services/order"
	"mall-system/internal/services/promotion"
	"mall-system/internal/utils"
)

type services struct {
	catalog    *catalog.Service
	stock      *inventory.Ledger
	promotions *promotion.Service
	carts      *cart.Service
	checkout   *checkout.Service
	orders     *order.Service
	boxes      *box.Service
	leases     *lease.Service
}

func newServices(db *gorm.DB, redisClient *redis.Client, publisher events.Publisher, logger *zap.Logger) *services {
	return &services{
		catalog:    catalog.NewService(db, redisClient, logger.Named("catalog")),
		stock:      inventory.NewLedger(db, logger.Named("inventory")),
		promotions: promotion.NewService(db, logger.Named("promotion")),
		carts:      cart.NewService(db, logger.Named("cart")),
		checkout:   checkout.NewService(db, publisher, logger.Named("checkout")),
		orders:     order.NewService(db, publisher, logger.Named("order")),
		boxes:      box.NewService(db, publisher, logger.Named("box")),
		leases:     lease.NewService(db, publisher, logger.Named("lease")),
	}
}

func newRouter(cfg config.Config, svc *services, issuer *utils.TokenIssuer, db *gorm.DB, logger *zap.Logger) (*gin.Engine, error) {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	limit, err := middleware.RateLimit(cfg.HTTP.RateLimit)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(middleware.RequestLogger(logger.Named("http")))
	r.Use(middleware.CORS())
	r.Use(gin.Recovery())
	r.Use(limit)

	buyerHandler := handlers.NewBuyerHTTPHandler(svc.catalog, svc.promotions, svc.carts, svc.checkout, svc.orders, logger)
	shopHandler := handlers.NewShopHTTPHandler(svc.catalog, svc.stock, svc.promotions, svc.orders, svc.leases, logger)
	adminHandler := handlers.NewAdminHTTPHandler(svc.catalog, svc.boxes, svc.leases, logger)

	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth(issuer))
	{
		catalogGroup := protected.Group("")
		{
			catalogGroup.GET("/shops", buyerHandler.ListShops)
			catalogGroup.GET("/shops/:id/products", buyerHandler.ListShopProducts)
			catalogGroup.GET("/products/:id", buyerHandler.GetProduct)
		}

		buyer := protected.Group("")
		buyer.Use(middleware.RequireRole(utils.RoleBuyer))
		{
			buyer.GET("/cart", buyerHandler.GetCart)
			buyer.POST("/cart/items", buyerHandler.AddItem)
			buyer.PUT("/cart/items/:productId", buyerHandler.SetQuantity)
			buyer.DELETE("/cart/items/:productId", buyerHandler.RemoveItem)
			buyer.DELETE("/cart", buyerHandler.ClearCart)
			buyer.POST("/checkout", buyerHandler.Checkout)

			buyer.GET("/orders", buyerHandler.ListOrders)
			buyer.GET("/orders/:id", buyerHandler.GetOrder)
			buyer.POST("/orders/:id/pay", buyerHandler.PayOrder)
			buyer.POST("/orders/:id/cancel", buyerHandler.CancelOrder)
		}

		shop := protected.Group("/shop")
		shop.Use(middleware.RequireRole(utils.RoleShop), middleware.RequireShop())
		{
			shop.GET("/products", shopHandler.ListProducts)
			shop.POST("/products", shopHandler.CreateProduct)
			shop.PUT("/products/:id", shopHandler.UpdateProduct)
			shop.PATCH("/products/:id/active", shopHandler.SetProductActive)

			shop.GET("/stock", shopHandler.StockSituation)
			shop.GET("/stock/:id", shopHandler.ProductStock)
			shop.POST("/stock/:id", shopHandler.AdjustStock)

			shop.GET("/promotions", shopHandler.ListPromotions)
			shop.POST("/promotions", shopHandler.CreatePromotion)
			shop.PUT("/promotions/:id", shopHandler.UpdatePromotion)
			shop.DELETE("/promotions/:id", shopHandler.DeletePromotion)

			shop.GET("/orders", shopHandler.ListOrders)
			shop.GET("/revenue", shopHandler.Revenue)

			shop.GET("/lease", shopHandler.LeaseSituation)
			shop.GET("/lease/payments", shopHandler.LeasePayments)
			shop.POST("/lease/payments", shopHandler.PayLease)
		}

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRole(utils.RoleAdmin))
		{
			admin.GET("/shops", adminHandler.ListShops)
			admin.POST("/shops", adminHandler.CreateShop)
			admin.GET("/shops/:id/lease", adminHandler.ShopLease)
			admin.GET("/shops/:id/lease/payments", adminHandler.ShopLeasePayments)

			admin.GET("/boxes", adminHandler.ListBoxes)
			admin.POST("/boxes", adminHandler.CreateBox)
			admin.GET("/boxes/:id", adminHandler.GetBox)
			admin.PUT("/boxes/:id", adminHandler.UpdateBox)
			admin.DELETE("/boxes/:id", adminHandler.DeleteBox)
			admin.GET("/boxes/:id/history", adminHandler.BoxHistory)
			admin.POST("/boxes/:id/assign", adminHandler.AssignBox)
			admin.POST("/boxes/:id/release", adminHandler.ReleaseBox)
			admin.POST("/boxes/:id/transfer", adminHandler.TransferBox)

			admin.GET("/leases", adminHandler.ListLeases)
			admin.GET("/leases/dashboard", adminHandler.LeaseDashboard)
			admin.POST("/leases", adminHandler.RecordLease)
			admin.GET("/leases/:id", adminHandler.GetLease)
			admin.PUT("/leases/:id", adminHandler.UpdateLease)
			admin.DELETE("/leases/:id", adminHandler.DeleteLease)
		}
	}

	r.GET("/health", healthCheckHandler(db))

	return r, nil
}

func healthCheckHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		httpStatus := http.StatusOK
		if err := database.Ping(db); err != nil {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"message":   "Server is running",
			"timestamp": time.Now(),
		})
	}
}
