package domain

import (
	"time"

	"github.com/fjod/freshmilk/internal/pricing"
)

// MaxLineQuantity caps the quantity of a single cart or order line.
const MaxLineQuantity = 999

// LineKey identifies a cart line. The same product in two variants is two lines.
type LineKey struct {
	ProductID string
	Variant   string
}

type CartItem struct {
	ProductID      string    `bson:"product_id" json:"product_id"`
	ProductName    string    `bson:"product_name" json:"product_name"`
	ProductImage   string    `bson:"product_image,omitempty" json:"product_image,omitempty"`
	Variant        string    `bson:"variant,omitempty" json:"variant,omitempty"`
	Quantity       int       `bson:"quantity" json:"quantity"`
	UnitPrice      int64     `bson:"unit_price" json:"unit_price"`
	LineTotal      int64     `bson:"line_total" json:"line_total"`
	IsSubscription bool      `bson:"is_subscription" json:"is_subscription"`
	AddedAt        time.Time `bson:"added_at" json:"added_at"`
}

func (i CartItem) Key() LineKey {
	return LineKey{ProductID: i.ProductID, Variant: i.Variant}
}

type Cart struct {
	UserID         string     `bson:"user_id" json:"user_id"`
	Items          []CartItem `bson:"items" json:"items"`
	DeliveryCharge int64      `bson:"delivery_charge" json:"delivery_charge"`
	Subtotal       int64      `bson:"subtotal" json:"subtotal"`
	GrandTotal     int64      `bson:"grand_total" json:"grand_total"`
	Version        int64      `bson:"version" json:"version"`
	CreatedAt      time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at" json:"updated_at"`

	index map[LineKey]int
}

// NewCart returns the empty cart shape for a user. It is not persisted.
func NewCart(userID string, deliveryCharge int64) *Cart {
	c := &Cart{
		UserID:         userID,
		Items:          []CartItem{},
		DeliveryCharge: deliveryCharge,
	}
	c.Recalculate()
	return c
}

func (c *Cart) lines() map[LineKey]int {
	if c.index == nil || len(c.index) != len(c.Items) {
		c.reindex()
	}
	return c.index
}

func (c *Cart) reindex() {
	c.index = make(map[LineKey]int, len(c.Items))
	for i, item := range c.Items {
		c.index[item.Key()] = i
	}
}

// Line returns the line stored under key.
func (c *Cart) Line(key LineKey) (CartItem, bool) {
	i, ok := c.lines()[key]
	if !ok {
		return CartItem{}, false
	}
	return c.Items[i], true
}

// AddLine merges item into an existing line with the same key, keeping the
// existing unit price snapshot, or appends it as a new line. The merged
// quantity may not exceed MaxLineQuantity.
func (c *Cart) AddLine(item CartItem) error {
	if i, ok := c.lines()[item.Key()]; ok {
		line := &c.Items[i]
		if line.Quantity+item.Quantity > MaxLineQuantity {
			return Invalid("line quantity %d exceeds %d", line.Quantity+item.Quantity, MaxLineQuantity)
		}
		line.Quantity += item.Quantity
		line.LineTotal = pricing.LineTotal(line.Quantity, line.UnitPrice)
		return nil
	}
	if item.Quantity > MaxLineQuantity {
		return Invalid("line quantity %d exceeds %d", item.Quantity, MaxLineQuantity)
	}
	item.LineTotal = pricing.LineTotal(item.Quantity, item.UnitPrice)
	c.Items = append(c.Items, item)
	c.index[item.Key()] = len(c.Items) - 1
	return nil
}

// SetQuantity sets the quantity of a line; a non-positive quantity removes it.
func (c *Cart) SetQuantity(key LineKey, quantity int) error {
	i, ok := c.lines()[key]
	if !ok {
		return ErrNotFound
	}
	if quantity <= 0 {
		c.RemoveLine(key)
		return nil
	}
	if quantity > MaxLineQuantity {
		return Invalid("line quantity %d exceeds %d", quantity, MaxLineQuantity)
	}
	line := &c.Items[i]
	line.Quantity = quantity
	line.LineTotal = pricing.LineTotal(quantity, line.UnitPrice)
	return nil
}

// RemoveLine drops the line under key and reports whether one existed.
func (c *Cart) RemoveLine(key LineKey) bool {
	i, ok := c.lines()[key]
	if !ok {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.reindex()
	return true
}

// Retain keeps only the lines for which keep returns true and reports how
// many were dropped.
func (c *Cart) Retain(keep func(CartItem) bool) int {
	kept := c.Items[:0]
	for _, item := range c.Items {
		if keep(item) {
			kept = append(kept, item)
		}
	}
	dropped := len(c.Items) - len(kept)
	c.Items = kept
	c.reindex()
	return dropped
}

func (c *Cart) Clear() {
	c.Items = []CartItem{}
	c.reindex()
}

// ProductIDs returns the distinct product ids in line order.
func (c *Cart) ProductIDs() []string {
	seen := make(map[string]struct{}, len(c.Items))
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// Recalculate derives subtotal and grand total from the lines.
func (c *Cart) Recalculate() {
	lines := make([]pricing.Line, len(c.Items))
	for i, item := range c.Items {
		lines[i] = pricing.Line{Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}
	totals := pricing.ComputeTotals(lines, c.DeliveryCharge)
	c.Subtotal = totals.Subtotal
	c.GrandTotal = totals.GrandTotal
}
