package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mall-system/internal/database/models"
	"mall-system/internal/services/cart"
	"mall-system/internal/services/catalog"
	"mall-system/internal/services/checkout"
	"mall-system/internal/services/order"
	"mall-system/internal/services/promotion"
)

type BuyerHTTPHandler struct {
	catalog    *catalog.Service
	promotions *promotion.Service
	carts      *cart.Service
	checkout   *checkout.Service
	orders     *order.Service
	logger     *zap.Logger
}

func NewBuyerHTTPHandler(
	catalogSvc *catalog.Service,
	promotions *promotion.Service,
	carts *cart.Service,
	checkoutSvc *checkout.Service,
	orders *order.Service,
	logger *zap.Logger,
) *BuyerHTTPHandler {
	return &BuyerHTTPHandler{
		catalog:    catalogSvc,
		promotions: promotions,
		carts:      carts,
		checkout:   checkoutSvc,
		orders:     orders,
		logger:     logger,
	}
}

type AddItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int32 `json:"quantity" binding:"required,min=1"`
}

type SetQuantityRequest struct {
	Quantity int32 `json:"quantity" binding:"required,min=1"`
}

type PayOrderRequest struct {
	Method string `json:"method"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type ListOrdersQuery struct {
	Status   string     `form:"status"`
	ShopID   *int64     `form:"shop_id"`
	From     *time.Time `form:"from" time_format:"2006-01-02"`
	To       *time.Time `form:"to" time_format:"2006-01-02"`
	MinTotal string     `form:"min_total"`
	MaxTotal string     `form:"max_total"`
	Sort     string     `form:"sort,default=date_desc"`
	Page     int        `form:"page,default=1"`
	Limit    int        `form:"limit,default=10"`
}

func (q ListOrdersQuery) filter() (order.Filter, error) {
	f := order.Filter{
		ShopID: q.ShopID,
		From:   q.From,
		Sort:   order.Sort(q.Sort),
		Page:   q.Page,
		Limit:  q.Limit,
	}
	if q.To != nil {
		// inclusive of the whole day
		end := q.To.Add(24*time.Hour - time.Nanosecond)
		f.To = &end
	}
	for _, s := range strings.Split(q.Status, ",") {
		if s = strings.TrimSpace(strings.ToUpper(s)); s != "" {
			f.Statuses = append(f.Statuses, models.OrderStatus(s))
		}
	}
	if q.MinTotal != "" {
		v, err := decimal.NewFromString(q.MinTotal)
		if err != nil {
			return f, err
		}
		f.MinTotal = &v
	}
	if q.MaxTotal != "" {
		v, err := decimal.NewFromString(q.MaxTotal)
		if err != nil {
			return f, err
		}
		f.MaxTotal = &v
	}
	return f, nil
}

// --- Catalog ---

func (h *BuyerHTTPHandler) ListShops(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	shops, err := h.catalog.ListShops(ctx, c.Query("search"), true)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Shops retrieved successfully", shops))
}

func (h *BuyerHTTPHandler) ListShopProducts(c *gin.Context) {
	shopID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	products, err := h.catalog.ListProducts(ctx, shopID, true)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	promos, err := h.promotions.ListActive(ctx, shopID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Products retrieved successfully", gin.H{
		"products":   products,
		"promotions": promos,
	}))
}

func (h *BuyerHTTPHandler) GetProduct(c *gin.Context) {
	productID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Product retrieved successfully", product))
}

// --- Cart ---

func (h *BuyerHTTPHandler) GetCart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.carts.Get(ctx, currentUser(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Cart retrieved successfully", view))
}

func (h *BuyerHTTPHandler) AddItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.carts.AddItem(ctx, currentUser(c), req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Item added to cart", view))
}

func (h *BuyerHTTPHandler) SetQuantity(c *gin.Context) {
	productID, ok := parseIDParam(c, "productId")
	if !ok {
		return
	}
	var req SetQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.carts.SetQuantity(ctx, currentUser(c), productID, req.Quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Quantity updated", view))
}

func (h *BuyerHTTPHandler) RemoveItem(c *gin.Context) {
	productID, ok := parseIDParam(c, "productId")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.carts.RemoveItem(ctx, currentUser(c), productID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Item removed from cart", view))
}

func (h *BuyerHTTPHandler) ClearCart(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	view, err := h.carts.Clear(ctx, currentUser(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Cart cleared", view))
}

func (h *BuyerHTTPHandler) Checkout(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.checkout.Run(ctx, currentUser(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Orders created successfully", res))
}

// --- Orders ---

func (h *BuyerHTTPHandler) ListOrders(c *gin.Context) {
	var q ListOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	f, err := q.filter()
	if err != nil {
		badRequest(c, "Invalid amount filter")
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.orders.List(ctx, currentUser(c), f)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Orders retrieved successfully", res.Orders, gin.H{
		"pagination": res.Pagination,
		"stats":      res.Stats,
	}))
}

func (h *BuyerHTTPHandler) GetOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	detail, err := h.orders.Get(ctx, orderID, currentUser(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order retrieved successfully", detail))
}

func (h *BuyerHTTPHandler) PayOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req PayOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	o, err := h.orders.Pay(ctx, orderID, currentUser(c), req.Method)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order paid successfully", gin.H{
		"order":     o,
		"reference": order.Reference(o.ID),
	}))
}

func (h *BuyerHTTPHandler) CancelOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req CancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	o, err := h.orders.Cancel(ctx, orderID, currentUser(c), req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Order cancelled successfully", o))
}
