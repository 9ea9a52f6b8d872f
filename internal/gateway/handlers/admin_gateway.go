package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mall-system/internal/services/box"
	"mall-system/internal/services/catalog"
	"mall-system/internal/services/lease"
)

// AdminHTTPHandler serves mall administration: shops, boxes and lease payments.
type AdminHTTPHandler struct {
	catalog *catalog.Service
	boxes   *box.Service
	leases  *lease.Service
	logger  *zap.Logger
}

func NewAdminHTTPHandler(catalogSvc *catalog.Service, boxes *box.Service, leases *lease.Service, logger *zap.Logger) *AdminHTTPHandler {
	return &AdminHTTPHandler{
		catalog: catalogSvc,
		boxes:   boxes,
		leases:  leases,
		logger:  logger,
	}
}

type CreateShopRequest struct {
	OwnerID     int64   `json:"owner_id" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

type AssignBoxRequest struct {
	ShopID    int64      `json:"shop_id" binding:"required"`
	StartedAt *time.Time `json:"started_at"`
}

type ReleaseBoxRequest struct {
	EndedAt *time.Time `json:"ended_at"`
}

type TransferBoxRequest struct {
	ShopID int64      `json:"shop_id" binding:"required"`
	At     *time.Time `json:"at"`
}

type RecordLeaseRequest struct {
	ShopID int64            `json:"shop_id" binding:"required"`
	Amount *decimal.Decimal `json:"amount"`
	Period string           `json:"period"`
	PaidAt *time.Time       `json:"paid_at"`
	Note   *string          `json:"note"`
}

// --- Shops ---

func (h *AdminHTTPHandler) CreateShop(c *gin.Context) {
	var req CreateShopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	shop, err := h.catalog.CreateShop(ctx, catalog.ShopInput{
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Shop created successfully", shop))
}

func (h *AdminHTTPHandler) ListShops(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	shops, err := h.catalog.ListShops(ctx, c.Query("search"), false)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Shops retrieved successfully", shops))
}

func (h *AdminHTTPHandler) ShopLease(c *gin.Context) {
	shopID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	sit, err := h.leases.SituationFor(ctx, shopID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease situation retrieved successfully", sit))
}

func (h *AdminHTTPHandler) ShopLeasePayments(c *gin.Context) {
	shopID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.leases.ListByShop(ctx, shopID, q.Page, q.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease payments retrieved successfully", res))
}

// --- Boxes ---

func (h *AdminHTTPHandler) ListBoxes(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.boxes.List(ctx, box.Filter{
		Free:   parseBoolQuery(c, "free"),
		Search: c.Query("search"),
		Sort:   box.Sort(c.Query("sort")),
		Page:   q.Page,
		Limit:  q.Limit,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successWithMetaResponse("Boxes retrieved successfully", res.Boxes, gin.H{
		"pagination": res.Pagination,
		"stats":      res.Stats,
	}))
}

func (h *AdminHTTPHandler) GetBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	detail, err := h.boxes.Get(ctx, boxID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Box retrieved successfully", detail))
}

func (h *AdminHTTPHandler) CreateBox(c *gin.Context) {
	var req box.BoxInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	b, err := h.boxes.Create(ctx, req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse("Box created successfully", b))
}

func (h *AdminHTTPHandler) UpdateBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req box.BoxUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	b, err := h.boxes.Update(ctx, boxID, req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Box updated successfully", b))
}

func (h *AdminHTTPHandler) DeleteBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.boxes.Delete(ctx, boxID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Box deleted successfully", nil))
}

func (h *AdminHTTPHandler) BoxHistory(c *gin.Context) {
	boxID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	page, err := h.boxes.History(ctx, boxID, q.Page, q.Limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Box history retrieved successfully", page))
}

func (h *AdminHTTPHandler) AssignBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req AssignBoxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.boxes.Assign(ctx, boxID, req.ShopID, req.StartedAt)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Box assigned successfully", res))
}

func (h *AdminHTTPHandler) ReleaseBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req ReleaseBoxRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request format: "+err.Error())
			return
		}
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.boxes.Release(ctx, boxID, req.EndedAt)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Box released successfully", res))
}

func (h *AdminHTTPHandler) TransferBox(c *gin.Context) {
	boxID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req TransferBoxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.boxes.Transfer(ctx, boxID, req.ShopID, req.At)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Box transferred successfully", res))
}

// --- Leases ---

func (h *AdminHTTPHandler) ListLeases(c *gin.Context) {
	var q PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
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

	res, err := h.leases.List(ctx, lease.Filter{
		ShopID: parseInt64Query(c, "shop_id"),
		Status: lease.Status(strings.ToUpper(c.Query("status"))),
		Period: c.Query("period"),
		From:   from,
		To:     to,
		Sort:   lease.Sort(c.Query("sort")),
		Page:   q.Page,
		Limit:  q.Limit,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease payments retrieved successfully", res))
}

func (h *AdminHTTPHandler) LeaseDashboard(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	d, err := h.leases.Dashboard(ctx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease dashboard computed successfully", d))
}

func (h *AdminHTTPHandler) GetLease(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	detail, err := h.leases.GetPayment(ctx, paymentID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease payment retrieved successfully", detail))
}

func (h *AdminHTTPHandler) RecordLease(c *gin.Context) {
	var req RecordLeaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	v, err := h.leases.RecordPayment(ctx, lease.PaymentInput{
		ShopID: req.ShopID,
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

func (h *AdminHTTPHandler) UpdateLease(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req lease.PaymentUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format: "+err.Error())
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	v, err := h.leases.UpdatePayment(ctx, paymentID, req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease payment updated", v))
}

func (h *AdminHTTPHandler) DeleteLease(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.leases.DeletePayment(ctx, paymentID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("Lease payment deleted", nil))
}
