package domain

import "github.com/shopspring/decimal"

// Price is a monetary amount encoded as a bare JSON number, the shape the
// catalog serves and the persisted cart keeps.
type Price struct {
	decimal.Decimal
}

// NewPrice wraps d.
func NewPrice(d decimal.Decimal) Price {
	return Price{Decimal: d}
}

func (p Price) MarshalJSON() ([]byte, error) {
	return []byte(p.Decimal.String()), nil
}

func (p *Price) UnmarshalJSON(data []byte) error {
	return p.Decimal.UnmarshalJSON(data)
}

// Product is a catalog entry as served by the remote catalog.
type Product struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Price Price  `json:"price"`
	Image string `json:"image"`
}

// Stock is the available quantity of a product. It is fetched fresh for every
// mutation and never cached.
type Stock struct {
	ProductID int `json:"id"`
	Amount    int `json:"amount"`
}

// Covers reports whether the stock can satisfy a line of the given amount.
func (s Stock) Covers(amount int) bool {
	return amount >= 1 && amount <= s.Amount
}
