// Package rate implements the pricing arithmetic for negotiation offers:
// converting audience reach and a price-per-thousand into a monetary offer,
// back-calculating the implied price from a counterparty's number, and
// classifying that implied price against the campaign's price bands.
package rate

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/parleyhq/parley/internal/money"
)

// ErrInvalidViews is returned when a view count is zero or negative.
var ErrInvalidViews = errors.New("rate: view count must be positive")

var thousand = decimal.NewFromInt(1000)

// Rate converts a view count and a price-per-thousand into an offer amount:
// views / 1000 * pricePerThousand, rounded half-up to two decimal places.
func Rate(views int64, pricePerThousand money.Amount) (money.Amount, error) {
	if views <= 0 {
		return money.Zero, fmt.Errorf("%w: %d", ErrInvalidViews, views)
	}
	factor := decimal.NewFromInt(views).DivRound(thousand, money.Scale+4)
	return pricePerThousand.Mul(factor), nil
}

// ImpliedPrice back-calculates the price-per-thousand a proposed amount
// corresponds to for the given reach. It is the algebraic inverse of Rate,
// subject to two-decimal rounding on both sides.
func ImpliedPrice(amount money.Amount, views int64) (money.Amount, error) {
	if views <= 0 {
		return money.Zero, fmt.Errorf("%w: %d", ErrInvalidViews, views)
	}
	factor := decimal.NewFromInt(views).DivRound(thousand, money.Scale+4)
	return amount.Div(factor), nil
}

// InitialOffer computes the opening offer: the floor price applied to the
// counterparty's reach. Opening at floor leaves the whole band as headroom.
func InitialOffer(views int64, floorPrice money.Amount) (money.Amount, error) {
	return Rate(views, floorPrice)
}
