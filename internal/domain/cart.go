package domain

import "github.com/shopspring/decimal"

// CartLineItem is a product in the cart together with the requested amount.
// It serializes flat so a persisted cart reads as a list of products with an
// extra amount field.
type CartLineItem struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Price  Price  `json:"price"`
	Image  string `json:"image"`
	Amount int    `json:"amount"`
}

// NewCartLineItem starts a line for p with the given amount.
func NewCartLineItem(p Product, amount int) CartLineItem {
	return CartLineItem{
		ID:     p.ID,
		Title:  p.Title,
		Price:  p.Price,
		Image:  p.Image,
		Amount: amount,
	}
}

// Subtotal is price times amount.
func (i CartLineItem) Subtotal() Price {
	return NewPrice(i.Price.Mul(decimal.NewFromInt(int64(i.Amount))))
}

// Cart is the ordered list of line items. New items are appended and at most
// one line exists per product id.
type Cart struct {
	Items []CartLineItem `json:"items"`
}

// IndexOf returns the position of the line for productID, or -1.
func (c Cart) IndexOf(productID int) int {
	for i := range c.Items {
		if c.Items[i].ID == productID {
			return i
		}
	}
	return -1
}

// ItemCount returns the sum of all amounts.
func (c Cart) ItemCount() int {
	var n int
	for _, item := range c.Items {
		n += item.Amount
	}
	return n
}

// Total returns the sum of all subtotals.
func (c Cart) Total() Price {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal().Decimal)
	}
	return NewPrice(total)
}

// AmountByProduct maps each product id in the cart to its amount.
func (c Cart) AmountByProduct() map[int]int {
	out := make(map[int]int, len(c.Items))
	for _, item := range c.Items {
		out[item.ID] = item.Amount
	}
	return out
}

// Clone returns a copy that shares no backing array with c.
func (c Cart) Clone() Cart {
	items := make([]CartLineItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}
