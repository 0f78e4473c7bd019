package domain

import "time"

// Variant is a priced sub-option of a product, e.g. a package size.
type Variant struct {
	Key   string `json:"key"`
	Price int64  `json:"price"`
}

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Variants  []Variant `json:"variants"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PriceFor resolves the unit price for a variant key, falling back to the
// base price when the key is empty or unknown.
func (p Product) PriceFor(variant string) int64 {
	if variant == "" {
		return p.Price
	}
	for _, v := range p.Variants {
		if v.Key == variant {
			return v.Price
		}
	}
	return p.Price
}
