package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"coursecart/internal/domain"
	"coursecart/internal/metrics"
	"coursecart/internal/payment"
	"coursecart/internal/service/checkout"
	"coursecart/internal/service/ingress"
	"coursecart/internal/service/settlement"
	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

type CartService interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	AddCourse(ctx context.Context, userID, courseID string) (*domain.Cart, error)
	RemoveCourse(ctx context.Context, userID, courseID string) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) (*domain.Cart, error)
}

type CheckoutService interface {
	Initiate(ctx context.Context, userID string) (*checkout.Result, error)
}

type IngressService interface {
	HandleReturn(ctx context.Context, sessionID string) ingress.ReturnResult
	HandleWebhook(ctx context.Context, payload []byte) (settlement.Outcome, error)
}

type HistoryService interface {
	History(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
	Enrollments(ctx context.Context, userID string) ([]domain.Enrollment, error)
}

type cartHandler struct {
	svc      CartService
	currency string
}

type addLineRequest struct {
	CourseID string `json:"courseId"`
}

func (h cartHandler) get(c *gin.Context) {
	cart, err := h.svc.Get(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(*cart, h.currency))
}

func (h cartHandler) addLine(c *gin.Context) {
	var req addLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON body")
		return
	}
	cart, err := h.svc.AddCourse(c.Request.Context(), userID(c), req.CourseID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(*cart, h.currency))
}

func (h cartHandler) removeLine(c *gin.Context) {
	cart, err := h.svc.RemoveCourse(c.Request.Context(), userID(c), c.Param("courseId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(*cart, h.currency))
}

func (h cartHandler) clear(c *gin.Context) {
	cart, err := h.svc.Clear(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(*cart, h.currency))
}

func checkoutHandler(svc CheckoutService) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.Initiate(c.Request.Context(), userID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// returnHandler is where the gateway sends the browser back. Midtrans
// appends order_id; other providers use session_id.
func returnHandler(svc IngressService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		if sessionID == "" {
			sessionID = c.Query("order_id")
		}
		result := svc.HandleReturn(c.Request.Context(), sessionID)
		c.Redirect(http.StatusSeeOther, "/checkout/result?status="+url.QueryEscape(string(result)))
	}
}

var resultMessages = map[string]string{
	string(ingress.ResultSuccess):   "Payment received. Your courses are ready in your library.",
	string(ingress.ResultCancelled): "Payment was not completed. Your cart is still here when you are ready.",
	string(ingress.ResultError):     "We could not confirm your payment yet. If you were charged, your courses will appear shortly.",
}

func resultHandler(c *gin.Context) {
	status := c.Query("status")
	msg, ok := resultMessages[status]
	if !ok {
		status = string(ingress.ResultError)
		msg = resultMessages[status]
	}
	c.HTML(http.StatusOK, "result", gin.H{"Status": status, "Message": msg})
}

// webhookHandler answers 200 for anything the provider should not resend,
// 400 for forged or unreadable payloads and 503 to ask for a retry.
func webhookHandler(svc IngressService, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			m.ObserveWebhook(http.StatusBadRequest)
			badRequest(c, "unreadable body")
			return
		}
		out, err := svc.HandleWebhook(c.Request.Context(), body)
		status := http.StatusOK
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, payment.ErrMalformedPayload):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrInvalidReference):
			out = "dropped"
		default:
			status = http.StatusServiceUnavailable
		}
		m.ObserveWebhook(status)
		if status != http.StatusOK {
			c.AbortWithStatusJSON(status, errorResponse{StatusCode: status, Message: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": out})
	}
}

type historyHandler struct {
	svc HistoryService
}

func (h historyHandler) transactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
		limit = v
	}
	txns, err := h.svc.History(c.Request.Context(), userID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	results := toTransactionResponses(txns)
	c.JSON(http.StatusOK, pagedResponse[transactionResponse]{Limit: limit, Count: len(results), Results: results})
}

func (h historyHandler) enrollments(c *gin.Context) {
	list, err := h.svc.Enrollments(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pagedResponse[domain.Enrollment]{Count: len(list), Results: list})
}

type catalogHandler struct {
	repo CatalogReader
}

func (h catalogHandler) list(c *gin.Context) {
	courses, err := h.repo.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pagedResponse[domain.Course]{Count: len(courses), Results: courses})
}

func (h catalogHandler) get(c *gin.Context) {
	course, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}
