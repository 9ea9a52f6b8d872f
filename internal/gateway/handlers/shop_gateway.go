package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mall-system/internal/database/models"
	"mall-system/internal/services/catalog"
	"mall-system/internal/services/inventory"
	"mall-system/internal/services/lease"
	"mall-system/internal/services/order"
	"mall-system/internal/services/promotion"
)

// ShopHTTPHandler serves the back office of the shop bound to the caller's token.
type ShopHTTPHandler struct {
	catalog    *catalog.Service
	stock      *inventory.Ledger
	promotions *promotion.Service
	orders     *order.Service
	leases     *lease.Service
	logger     *zap.Logger
}

func NewShopHTTPHandler(
	catalogSvc *catalog.Service,
	stock *inventory.Ledger,
	promotions *promotion.Service,
	orders *order.Service,
	leases *lease.Service,
	logger *zap.Logger,
) *ShopHTTPHandler {
	return &ShopHTTPHandler{
		catalog:    catalogSvc,
		stock:      stock,
		promotions: promotions,
		orders:     orders,
		leases:     leases,
		logger:     logger,
	}
}

type CreateProductRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description *string         `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int32           `json:"stock" binding:"min=0"`
	Unit        string          `json:"unit"`
}

type UpdateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Unit        *string          `json:"unit"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type AdjustStockRequest struct {
	Operation string `json:"operation"`
	Quantity  int32  `json:"quantity" binding:"min=0"`
}

type CreatePromotionRequest struct {
	ProductIDs  []int64         `json:"product_ids" binding:"required,min=1"`
	Discount    decimal.Decimal `json:"discount"`
	StartsAt    time.Time       `json:"starts_at" binding:"required"`
	EndsAt      time.Time       `json:"ends_at" binding:"required"`
	Description *string         `json:"description"`
}

type UpdatePromotionRequest struct {
	Discount    *decimal.Decimal `json:"discount"`
	StartsAt    *time.Time       `json:"starts_at"`
	EndsAt      *time.Time       `json:"ends_at"`
	Description *string          `json:"description"`
}

type LeasePaymentRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Period string           `json:"period"`
	PaidAt *time.Time       `json:"paid_at"`
	Note   *string          `json:"note"`
}

// --- Products ---

func (h *ShopHTTPHandler) ListProducts(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	products, err := h.catalog.ListProducts(ctx, currentShop(c), false)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Products retrieved successfully", products))
}

func (h *ShopHTTPHandler) CreateProduct(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	product, err := h.catalog.CreateProduct(ctx, currentShop(c), catalog.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Unit:        req.Unit,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Product created successfully", product))
}

func (h *ShopHTTPHandler) UpdateProduct(c *gin.Context) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	product, err := h.catalog.UpdateProduct(ctx, currentShop(c), productID, catalog.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Unit:        req.Unit,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Product updated successfully", product))
}

func (h *ShopHTTPHandler) SetProductActive(c *gin.Context) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	product, err := h.catalog.SetProductActive(ctx, currentShop(c), productID, *req.Active)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Product status updated", product))
}

// --- Stock ---

func (h *ShopHTTPHandler) StockSituation(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	situations, err := h.stock.ShopSituation(ctx, currentShop(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Stock retrieved successfully", situations))
}

func (h *ShopHTTPHandler) ProductStock(c *gin.Context) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	situation, err := h.stock.Situation(ctx, currentShop(c), productID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Stock retrieved successfully", situation))
}

func (h *ShopHTTPHandler) AdjustStock(c *gin.Context) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	op := inventory.AdjustOp(strings.ToUpper(req.Operation))
	situation, err := h.stock.AdjustStock(ctx, currentShop(c), productID, op, req.Quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Stock updated successfully", situation))
}

// --- Promotions ---

func (h *ShopHTTPHandler) ListPromotions(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	promos, err := h.promotions.ListForShop(ctx, currentShop(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Promotions retrieved successfully", promos))
}

func (h *ShopHTTPHandler) CreatePromotion(c *gin.Context) {
	var req CreatePromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	promo, err := h.promotions.Create(ctx, currentShop(c), promotion.CreateInput{
		ProductIDs:  req.ProductIDs,
		Discount:    req.Discount,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Promotion created successfully", promo))
}

func (h *ShopHTTPHandler) UpdatePromotion(c *gin.Context) {
	promoID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req UpdatePromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	promo, err := h.promotions.Update(ctx, promoID, currentShop(c), promotion.UpdateInput{
		Discount:    req.Discount,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Promotion updated successfully", promo))
}

func (h *ShopHTTPHandler) DeletePromotion(c *gin.Context) {
	promoID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.promotions.Delete(ctx, promoID, currentShop(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Promotion deleted successfully", nil))
}

// --- Orders ---

func (h *ShopHTTPHandler) ListOrders(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	status := models.OrderStatus(strings.ToUpper(c.Query("status")))
	res, err := h.orders.ListForShop(ctx, currentShop(c), status, q.Page, q.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Orders retrieved successfully", res.Orders, gin.H{
		"pagination": res.Pagination,
	}))
}

func (h *ShopHTTPHandler) Revenue(c *gin.Context) {
	from, err := parseDateQuery(c, "from")
	if err != nil {
		badRequest(c, "Invalid from date")
		return
	}
	to, err := parseDateQuery(c, "to")
	if err != nil {
		badRequest(c, "Invalid to date")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	rev, err := h.orders.Revenue(ctx, currentShop(c), from, to)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Revenue computed successfully", rev))
}

// --- Lease ---

func (h *ShopHTTPHandler) LeaseSituation(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	sit, err := h.leases.SituationFor(ctx, currentShop(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease situation retrieved successfully", sit))
}

func (h *ShopHTTPHandler) LeasePayments(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.leases.ListByShop(ctx, currentShop(c), q.Page, q.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease payments retrieved successfully", res))
}

func (h *ShopHTTPHandler) PayLease(c *gin.Context) {
	var req LeasePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	v, err := h.leases.RecordPayment(ctx, lease.PaymentInput{
		ShopID: currentShop(c),
		Amount: req.Amount,
		Period: req.Period,
		PaidAt: req.PaidAt,
		Note:   req.Note,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Lease payment recorded", v))
}
