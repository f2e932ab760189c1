package httpserver

import (
	"time"

	"coursecart/internal/domain"
)

type priceValue struct {
	Type           string `json:"type"`
	CurrencyCode   string `json:"currencyCode"`
	CentAmount     int64  `json:"centAmount"`
	FractionDigits int    `json:"fractionDigits"`
}

func money(cents int64, currency string) priceValue {
	return priceValue{
		Type:           "centPrecision",
		CurrencyCode:   currency,
		CentAmount:     cents,
		FractionDigits: fractionDigits(currency),
	}
}

// Rupiah and yen are charged in whole units by the gateway.
func fractionDigits(currency string) int {
	switch currency {
	case "IDR", "JPY", "KRW":
		return 0
	}
	return 2
}

type cartResponse struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Active     bool           `json:"active"`
	Lines      []lineResponse `json:"lines"`
	TotalPrice priceValue     `json:"totalPrice"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type lineResponse struct {
	ID       string     `json:"id"`
	CourseID string     `json:"courseId"`
	Title    string     `json:"title"`
	Price    priceValue `json:"price"`
	AddedAt  time.Time  `json:"addedAt"`
}

func toCartResponse(c domain.Cart, currency string) cartResponse {
	lines := make([]lineResponse, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, lineResponse{
			ID:       l.ID,
			CourseID: l.CourseID,
			Title:    l.Title,
			Price:    money(l.PriceCents, currency),
			AddedAt:  l.CreatedAt,
		})
	}
	return cartResponse{
		ID:         c.ID,
		UserID:     c.UserID,
		Active:     c.Active,
		Lines:      lines,
		TotalPrice: money(c.TotalCents(), currency),
		CreatedAt:  c.CreatedAt,
	}
}

type transactionResponse struct {
	ID         string     `json:"id"`
	CartID     string     `json:"cartId"`
	ExternalID string     `json:"externalId"`
	Status     string     `json:"status"`
	Method     string     `json:"method,omitempty"`
	Amount     priceValue `json:"amount"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func toTransactionResponses(txns []domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		out = append(out, transactionResponse{
			ID:         t.ID,
			CartID:     t.CartID,
			ExternalID: t.ExternalID,
			Status:     string(t.Status),
			Method:     t.Method,
			Amount:     money(t.AmountCents, t.Currency),
			CreatedAt:  t.CreatedAt,
		})
	}
	return out
}

type pagedResponse[T any] struct {
	Limit   int `json:"limit"`
	Count   int `json:"count"`
	Results []T `json:"results"`
}
