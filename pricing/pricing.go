// Package pricing computes order totals from the active price table.
package pricing

import (
	"errors"
	"fmt"

	"github.com/acaisupper/acaibot/storage"
)

// ErrUnknownItem marks a cart line whose flavor has no entry in the
// price table. Callers treat it as a catalog problem, not user error.
var ErrUnknownItem = errors.New("unknown menu item")

// PriceFor resolves the unit price of a flavor from the table.
func PriceFor(table map[string]float64, flavor string) (float64, error) {
	price, ok := table[flavor]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownItem, flavor)
	}
	return price, nil
}

// ComputeTotal prices every cart line against the table and returns the
// order total. Sauces are free; only the flavor carries a price. The
// result does not depend on line order.
func ComputeTotal(items []storage.LineItem, table map[string]float64) (float64, error) {
	var total float64
	for _, it := range items {
		price, err := PriceFor(table, it.Flavor)
		if err != nil {
			return 0, err
		}
		if it.Quantity <= 0 {
			return 0, fmt.Errorf("invalid quantity %d for %q", it.Quantity, it.Flavor)
		}
		total += price * float64(it.Quantity)
	}
	return total, nil
}

// Reprice stamps each line's unit price from the table so stored orders
// keep the amount the customer was shown.
func Reprice(items []storage.LineItem, table map[string]float64) ([]storage.LineItem, error) {
	out := make([]storage.LineItem, len(items))
	for i, it := range items {
		price, err := PriceFor(table, it.Flavor)
		if err != nil {
			return nil, err
		}
		it.UnitPrice = price
		out[i] = it
	}
	return out, nil
}

// FormatAmount renders an amount with the configured currency symbol,
// always with two decimals.
func FormatAmount(currency string, amount float64) string {
	if currency == "" {
		currency = "$"
	}
	return fmt.Sprintf("%s%.2f", currency, amount)
}
