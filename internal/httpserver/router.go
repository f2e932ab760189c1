package httpserver

import (
	"context"
	"errors"
	"html/template"
	"time"

	"coursecart/internal/domain"
	"coursecart/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps carries the services the router exposes.
type Deps struct {
	Carts    CartService
	Checkout CheckoutService
	Ingress  IngressService
	History  HistoryService
	Catalog  CatalogReader
	Tokens   TokenLookup
	Ready    Pinger
	Metrics  *metrics.Metrics

	Currency    string
	CORSOrigins []string
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type CatalogReader interface {
	List(ctx context.Context) ([]domain.Course, error)
	GetByID(ctx context.Context, id string) (*domain.Course, error)
}

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Checkout {{.Status}}</title></head>
<body data-status="{{.Status}}"><h1>{{.Message}}</h1><p><a href="/">Back to courses</a></p></body></html>`))

// buildRouter wires routes for the API.
func buildRouter(logger *zap.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Carts == nil || deps.Checkout == nil || deps.Ingress == nil || deps.History == nil || deps.Tokens == nil {
		return nil, errors.New("httpserver: missing service dependency")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(logger, deps.Metrics), gin.Recovery())
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
			ExposeHeaders:    []string{requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	router.SetHTMLTemplate(resultPage)

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Ready))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if deps.Catalog != nil {
		ch := catalogHandler{repo: deps.Catalog}
		router.GET("/courses", ch.list)
		router.GET("/courses/:id", ch.get)
	}

	router.GET("/checkout/return", returnHandler(deps.Ingress))
	router.GET("/checkout/result", resultHandler)
	router.POST("/webhooks/payment", webhookHandler(deps.Ingress, deps.Metrics))

	authed := router.Group("/", authMiddleware(deps.Tokens))
	cart := cartHandler{svc: deps.Carts, currency: deps.Currency}
	authed.GET("/me/cart", cart.get)
	authed.POST("/me/cart/lines", cart.addLine)
	authed.DELETE("/me/cart/lines/:courseId", cart.removeLine)
	authed.DELETE("/me/cart/lines", cart.clear)
	authed.POST("/checkout", checkoutHandler(deps.Checkout))

	history := historyHandler{svc: deps.History}
	authed.GET("/me/transactions", history.transactions)
	authed.GET("/me/enrollments", history.enrollments)

	return router, nil
}
