package domain

import "time"

// Cart is a user's collection of not-yet-purchased courses. At most one cart
// per user is active at a time.
type Cart struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
	Lines         []CartLine `json:"lines"`
}

// CartLine carries the course price captured when the course was added.
type CartLine struct {
	ID         string    `json:"id"`
	CartID     string    `json:"cartId"`
	CourseID   string    `json:"courseId"`
	Title      string    `json:"title"`
	PriceCents int64     `json:"priceCents"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TotalCents sums the line snapshots.
func (c Cart) TotalCents() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.PriceCents
	}
	return total
}
