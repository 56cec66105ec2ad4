package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"circulation-service/internal/models"
	"circulation-service/internal/redisclient"
	"circulation-service/internal/service"
	"circulation-service/internal/store"
	"circulation-service/internal/util"
	"circulation-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers. Authentication happens upstream; the
// acting identity arrives in trusted X-User-ID / X-User-Role headers.
type Handler struct {
	loans        *service.LoanService
	reservations *service.ReservationService
	sweep        *worker.SweepWorker
	cache        *redisclient.Client
	store        *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(
	loans *service.LoanService,
	reservations *service.ReservationService,
	sweep *worker.SweepWorker,
	cache *redisclient.Client,
	st *store.Store,
) *Handler {
	return &Handler{
		loans:        loans,
		reservations: reservations,
		sweep:        sweep,
		cache:        cache,
		store:        st,
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
		v1.POST("/loans/issue", h.issueLoan)
		v1.POST("/loans/return", h.returnLoan)
		v1.POST("/loans/renew", h.renewLoan)
		v1.GET("/loans", h.listLoans)

		v1.POST("/reservations", h.createReservation)
		v1.POST("/reservations/:id/cancel", h.cancelReservation)
		v1.GET("/reservations", h.listReservations)

		v1.GET("/books/:id/availability", h.bookAvailability)

		v1.GET("/notifications", h.listNotifications)
		v1.POST("/admin/notifications/run", h.runNotificationSweep)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// issueLoan handles POST /loans/issue
func (h *Handler) issueLoan(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
		BookID int64 `json:"book_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and book_id are required"})
		return
	}

	loan, err := h.loans.Issue(c.Request.Context(), req.UserID, req.BookID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Book issued successfully",
		"loan":    loan,
	})
}

// returnLoan handles POST /loans/return
func (h *Handler) returnLoan(c *gin.Context) {
	var req struct {
		LoanID int64 `json:"loan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loan_id is required"})
		return
	}

	loan, fulfilled, err := h.loans.Return(c.Request.Context(), req.LoanID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":               "Book returned successfully",
		"loan":                  loan,
		"reservation_fulfilled": fulfilled != nil,
		"fulfilled_reservation": fulfilled,
	})
}

// renewLoan handles POST /loans/renew
func (h *Handler) renewLoan(c *gin.Context) {
	var req struct {
		LoanID int64 `json:"loan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "loan_id is required"})
		return
	}

	loan, err := h.loans.Renew(c.Request.Context(), req.LoanID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Loan renewed successfully",
		"loan":    loan,
	})
}

// listLoans handles GET /loans; members only see their own
func (h *Handler) listLoans(c *gin.Context) {
	userID, status := listFilter(c)

	loans, err := h.loans.ListLoans(c.Request.Context(), userID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list loans"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"loans": loans})
}

// createReservation handles POST /reservations; members can only
// reserve for themselves
func (h *Handler) createReservation(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id"`
		BookID int64 `json:"book_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "book_id is required"})
		return
	}

	requesterID, role := identity(c)
	targetUserID := req.UserID
	if role == models.RoleMember || targetUserID == 0 {
		targetUserID = requesterID
	}
	if targetUserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	reservation, err := h.reservations.Create(c.Request.Context(), targetUserID, req.BookID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":     "Reservation created successfully",
		"reservation": reservation,
	})
}

// cancelReservation handles POST /reservations/:id/cancel
func (h *Handler) cancelReservation(c *gin.Context) {
	reservationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reservation ID"})
		return
	}

	requesterID, role := identity(c)
	privileged := role == models.RoleAdmin || role == models.RoleLibrarian

	if err := h.reservations.Cancel(c.Request.Context(), reservationID, requesterID, privileged); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Reservation cancelled successfully"})
}

// listReservations handles GET /reservations; members only see their own
func (h *Handler) listReservations(c *gin.Context) {
	userID, status := listFilter(c)

	reservations, err := h.reservations.ListReservations(c.Request.Context(), userID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list reservations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reservations": reservations})
}

// bookAvailability handles GET /books/:id/availability with the cache
// fast path and store fallback
func (h *Handler) bookAvailability(c *gin.Context) {
	bookID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid book ID"})
		return
	}

	if available, err := h.cache.GetAvailability(c.Request.Context(), bookID); err == nil {
		c.JSON(http.StatusOK, gin.H{"book_id": bookID, "available_copies": available})
		return
	}

	book, err := h.store.GetBook(c.Request.Context(), bookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read availability"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"book_id": bookID, "available_copies": book.AvailableCopies})
}

// listNotifications handles GET /notifications; members only see their own
func (h *Handler) listNotifications(c *gin.Context) {
	userID, _ := listFilter(c)
	if userID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	notifications, err := h.store.ListNotificationsByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// runNotificationSweep handles POST /admin/notifications/run, the
// manual counterpart of the scheduled sweep
func (h *Handler) runNotificationSweep(c *gin.Context) {
	result, err := h.sweep.RunOnce(c.Request.Context())
	if errors.Is(err, service.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Notification sweep failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// identity reads the upstream-resolved requester from trusted headers
func identity(c *gin.Context) (int64, string) {
	userID, _ := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	return userID, c.GetHeader("X-User-Role")
}

// listFilter resolves the user/status filters for list endpoints.
// Members are always scoped to their own records.
func listFilter(c *gin.Context) (int64, string) {
	requesterID, role := identity(c)
	status := c.Query("status")

	if role == models.RoleMember {
		return requesterID, status
	}

	userID, _ := strconv.ParseInt(c.Query("user_id"), 10, 64)
	return userID, status
}

// statusFor maps engine rejections to HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrBookNotFound),
		errors.Is(err, service.ErrLoanNotFound),
		errors.Is(err, service.ErrReservationNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNoCopiesAvailable),
		errors.Is(err, service.ErrDuplicateLoan),
		errors.Is(err, service.ErrDuplicateReservation),
		errors.Is(err, service.ErrAlreadyHolds),
		errors.Is(err, service.ErrAlreadyReturned),
		errors.Is(err, service.ErrLoanNotIssued),
		errors.Is(err, service.ErrReservationNotActive),
		errors.Is(err, service.ErrRenewalLimitReached),
		errors.Is(err, service.ErrRenewalBlockedByReservation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
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
