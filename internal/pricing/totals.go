// Package pricing computes cart and order totals. Both the cart and the order
// placement path go through ComputeTotals so displayed and charged amounts
// cannot drift apart.
package pricing

// Line is one priced entry. Amounts are in minor currency units.
type Line struct {
	Quantity  int
	UnitPrice int64
}

type Totals struct {
	Subtotal   int64 `json:"subtotal" bson:"subtotal"`
	GrandTotal int64 `json:"grand_total" bson:"grand_total"`
}

// LineTotal returns quantity x unit price, or 0 for a malformed line.
func LineTotal(quantity int, unitPrice int64) int64 {
	if quantity <= 0 || unitPrice <= 0 {
		return 0
	}
	return int64(quantity) * unitPrice
}

// ComputeTotals sums the well-formed lines and adds the delivery charge.
// Lines without a positive quantity or price are skipped instead of failing
// the whole computation.
func ComputeTotals(lines []Line, deliveryCharge int64) Totals {
	var subtotal int64
	for _, l := range lines {
		subtotal += LineTotal(l.Quantity, l.UnitPrice)
	}
	return Totals{
		Subtotal:   subtotal,
		GrandTotal: subtotal + deliveryCharge,
	}
}
