package model

import "github.com/yanun0323/decimal"

// Position is a signed size with its volume weighted average price.
type Position struct {
	Size  decimal.Decimal `json:"size"`
	Price decimal.Decimal `json:"price"`
}

// Update applies a signed fill and reports which part of it opened new
// exposure and which part closed existing exposure. Both parts carry the
// sign of the fill and always sum to size.
func (p Position) Update(size, price decimal.Decimal) (next Position, opened, closed decimal.Decimal) {
	old := p.Size
	next.Size = old.Add(size)
	next.Price = p.Price

	switch {
	case next.Size.IsZero():
		opened, closed = decimal.Zero, size
		next.Price = decimal.Zero
	case old.IsZero():
		opened, closed = size, decimal.Zero
		next.Price = price
	case old.Sign() == size.Sign():
		opened, closed = size, decimal.Zero
		next.Price = p.Price.Mul(old).Add(size.Mul(price)).Div(next.Size)
	case next.Size.Sign() == old.Sign():
		opened, closed = decimal.Zero, size
	default:
		opened, closed = next.Size, old.Neg()
		next.Price = price
	}
	return next, opened, closed
}

// Fix overwrites the position and reports whether the size was unchanged.
func (p Position) Fix(size, price decimal.Decimal) (Position, bool) {
	return Position{Size: size, Price: price}, p.Size.Equal(size)
}
