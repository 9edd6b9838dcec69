package pricing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acaisupper/acaibot/storage"
)

var table = map[string]float64{
	"Classic Acai": 8.0,
	"Protein Acai": 9.0,
	"Vegan Acai":   8.5,
}

func TestComputeTotal(t *testing.T) {
	items := []storage.LineItem{
		{Flavor: "Classic Acai", Quantity: 2, UnitPrice: 8.0},
		{Flavor: "Protein Acai", Quantity: 1, UnitPrice: 9.0},
	}
	total, err := ComputeTotal(items, table)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, total, 1e-9)
}

func TestComputeTotalPermutationInvariant(t *testing.T) {
	items := []storage.LineItem{
		{Flavor: "Classic Acai", Quantity: 1, UnitPrice: 8.0},
		{Flavor: "Protein Acai", Quantity: 3, UnitPrice: 9.0},
		{Flavor: "Vegan Acai", Quantity: 2, UnitPrice: 8.5},
		{Flavor: "Classic Acai", Quantity: 4, UnitPrice: 8.0},
	}
	want, err := ComputeTotal(items, table)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]storage.LineItem(nil), items...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got, err := ComputeTotal(shuffled, table)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9)
	}
}

func TestComputeTotalUnknownItem(t *testing.T) {
	items := []storage.LineItem{
		{Flavor: "Durian Acai", Quantity: 1, UnitPrice: 8.0},
	}
	_, err := ComputeTotal(items, table)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownItem)
	assert.Contains(t, err.Error(), "Durian Acai")
}

func TestComputeTotalRejectsNonPositiveQuantity(t *testing.T) {
	for _, qty := range []int{0, -1} {
		_, err := ComputeTotal([]storage.LineItem{
			{Flavor: "Classic Acai", Quantity: qty, UnitPrice: 8.0},
		}, table)
		assert.Error(t, err, "quantity %d", qty)
	}
}

func TestRepriceUsesCurrentTable(t *testing.T) {
	items := []storage.LineItem{
		{Flavor: "Classic Acai", Quantity: 2, UnitPrice: 7.0},
	}
	repriced, err := Reprice(items, table)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, repriced[0].UnitPrice, 1e-9)
	// input slice untouched
	assert.InDelta(t, 7.0, items[0].UnitPrice, 1e-9)
}

func TestPriceFor(t *testing.T) {
	price, err := PriceFor(table, "Vegan Acai")
	require.NoError(t, err)
	assert.InDelta(t, 8.5, price, 1e-9)

	_, err = PriceFor(table, "Matcha Acai")
	assert.ErrorIs(t, err, ErrUnknownItem)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$8.00", FormatAmount("", 8))
	assert.Equal(t, "S$25.50", FormatAmount("S$", 25.5))
	assert.Equal(t, "$0.00", FormatAmount("$", 0))
}
