package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"restaurant-service/internal/models"
	"restaurant-service/internal/service"
	"restaurant-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	reservations *service.ReservationService
	orders       *service.OrderService
	ledger       *service.StockLedger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	reservations *service.ReservationService,
	orders *service.OrderService,
	ledger *service.StockLedger,
) *Handler {
	return &Handler{
		reservations: reservations,
		orders:       orders,
		ledger:       ledger,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/reservations/availability", h.checkAvailability)
		v1.POST("/reservations", h.createReservation)
		v1.GET("/reservations", h.listReservations)
		v1.GET("/reservations/:id", h.getReservation)
		v1.PATCH("/reservations/:id/status", h.updateReservationStatus)
		v1.DELETE("/reservations/:id", h.softDeleteReservation)
		v1.POST("/reservations/:id/restore", h.restoreReservation)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.changeOrderStatus)
		v1.GET("/orders", h.listOrders)
		v1.GET("/kitchen/queue", h.kitchenQueue)
		v1.GET("/orders/cancelled", h.listCancelledOrders)

		v1.GET("/menu/:id/availability", h.menuItemAvailability)

		v1.GET("/ingredients", h.listIngredients)
		v1.GET("/ingredients/:id", h.getIngredient)
		v1.POST("/ingredients/:id/restock", h.restockIngredient)
	}
}

// respondError maps the domain error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var notFoundErr *models.NotFoundError
	var conflictErr *models.ConflictError
	var stockErr *models.InsufficientStockError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundErr.Error()})
	case errors.As(err, &conflictErr):
		body := gin.H{"error": conflictErr.Error()}
		if !conflictErr.ConflictStart.IsZero() {
			body["conflict_start"] = conflictErr.ConflictStart
			body["conflict_end"] = conflictErr.ConflictEnd
		}
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &stockErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      stockErr.Error(),
			"ingredient": stockErr.IngredientName,
			"available":  stockErr.Available,
			"required":   stockErr.Required,
			"unit":       stockErr.Unit,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "details": err.Error()})
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// checkAvailability handles the pure booking admissibility check
func (h *Handler) checkAvailability(c *gin.Context) {
	tableNumber, err := strconv.Atoi(c.Query("table"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid table number"})
		return
	}
	partySize, err := strconv.Atoi(c.DefaultQuery("party_size", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid party size"})
		return
	}

	date, err := time.ParseInLocation("2006-01-02", c.Query("date"), time.UTC)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}
	startClock, err := time.Parse("15:04", c.Query("start_time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time, expected HH:MM"})
		return
	}
	start := time.Date(date.Year(), date.Month(), date.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, time.UTC)

	if err := h.reservations.CheckAvailable(c.Request.Context(), tableNumber, date, start, partySize); err != nil {
		var conflictErr *models.ConflictError
		if errors.As(err, &conflictErr) {
			c.JSON(http.StatusOK, gin.H{
				"available":      false,
				"reason":         conflictErr.Error(),
				"conflict_start": conflictErr.ConflictStart,
				"conflict_end":   conflictErr.ConflictEnd,
			})
			return
		}
		var validationErr *models.ValidationError
		if errors.As(err, &validationErr) {
			c.JSON(http.StatusOK, gin.H{
				"available": false,
				"reason":    validationErr.Error(),
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"available": true})
}

// createReservation handles booking creation
func (h *Handler) createReservation(c *gin.Context) {
	var req service.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	reservation, err := h.reservations.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, reservation)
}

// listReservations handles reservation listing by table and date range
func (h *Handler) listReservations(c *gin.Context) {
	tableNumber, err := strconv.Atoi(c.Query("table"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid table number"})
		return
	}

	mode := models.ActiveOnly
	if c.Query("include_deleted") == "true" {
		mode = models.IncludingDeleted
	}

	reservations, err := h.reservations.List(c.Request.Context(),
		tableNumber, c.Query("from"), c.Query("to"), mode)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

// getReservation handles get reservation by ID
func (h *Handler) getReservation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	reservation, err := h.reservations.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

// updateReservationStatus handles reservation status changes
func (h *Handler) updateReservationStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	reservation, err := h.reservations.UpdateStatus(c.Request.Context(), id, body.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reservation)
}

// softDeleteReservation handles soft deletion
func (h *Handler) softDeleteReservation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.reservations.SoftDelete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// restoreReservation clears the soft-deletion marker
func (h *Handler) restoreReservation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.reservations.Restore(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	order, items, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order":       order,
		"items":       items,
		"total_cents": models.OrderTotalCents(items),
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	order, items, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":       order,
		"items":       items,
		"total_cents": models.OrderTotalCents(items),
	})
}

// changeOrderStatus handles order state machine transitions
func (h *Handler) changeOrderStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body struct {
		Status string         `json:"status" binding:"required"`
		Actor  *service.Actor `json:"actor,omitempty"`
		Reason string         `json:"reason,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	order, err := h.orders.ChangeStatus(c.Request.Context(), id, body.Status, body.Actor, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// listOrders handles order listing by status
func (h *Handler) listOrders(c *gin.Context) {
	status := c.Query("status")
	if status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status query parameter is required"})
		return
	}

	orders, err := h.orders.ListByStatus(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// kitchenQueue lists open tickets, urgent first then oldest first
func (h *Handler) kitchenQueue(c *gin.Context) {
	orders, err := h.orders.KitchenQueue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// listCancelledOrders lists cancelled orders with their audit entries
func (h *Handler) listCancelledOrders(c *gin.Context) {
	cancelled, err := h.orders.ListCancelled(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": cancelled})
}

// menuItemAvailability answers whether a dish is currently cookable,
// served from the mirror with a database fallback
func (h *Handler) menuItemAvailability(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	available, err := h.ledger.ItemAvailable(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"menu_item_id": id,
		"available":    available,
	})
}

// listIngredients lists all ingredients with their below-minimum flag
func (h *Handler) listIngredients(c *gin.Context) {
	ingredients, err := h.ledger.ListIngredients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	type ingredientView struct {
		models.Ingredient
		BelowMinimum bool `json:"below_minimum"`
	}
	views := make([]ingredientView, 0, len(ingredients))
	for i := range ingredients {
		views = append(views, ingredientView{
			Ingredient:   ingredients[i],
			BelowMinimum: ingredients[i].BelowMinimum(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"ingredients": views})
}

// getIngredient handles get ingredient by ID
func (h *Handler) getIngredient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ingredient, err := h.ledger.GetIngredient(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ingredient":    ingredient,
		"below_minimum": ingredient.BelowMinimum(),
	})
}

// restockIngredient handles the administrative restock path
func (h *Handler) restockIngredient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var body struct {
		Quantity float64 `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	ingredient, err := h.ledger.Restock(c.Request.Context(), id, body.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ingredient)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
