package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll(t *testing.T) {
	products := All()
	require.Len(t, products, 30)

	first := products[0]
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, "Wireless Bluetooth Headphones", first.Name)
	assert.Equal(t, "Electronics", first.Category)
	assert.InDelta(t, 299, first.Price, 1e-9)
	assert.InDelta(t, 4.5, first.Rating, 1e-9)
	assert.True(t, first.InStock)
	assert.Equal(t, "High-quality electronics product with excellent features and reliable performance. Perfect for everyday use.",
		first.Description)
	assert.Equal(t, "Wireless Bluetooth Headphones - Product 1", first.ImageAlt)

	second := products[1]
	assert.Equal(t, "Clothing", second.Category)
	assert.Equal(t, "Denim Jacket", second.Name, "name picked by index within category list")

	assert.False(t, products[9].InStock)
	assert.False(t, products[22].InStock)
	assert.Equal(t, products, All(), "cached")
}

func TestByIDAndCategory(t *testing.T) {
	p, ok := ByID(7)
	require.True(t, ok)
	assert.Equal(t, 7, p.ID)
	assert.Equal(t, "Premium Cotton T-Shirt", p.Name)

	_, ok = ByID(31)
	assert.False(t, ok)

	books := ByCategory("Books")
	assert.Len(t, books, 6)
	for _, b := range books {
		assert.Equal(t, "Books", b.Category)
	}
	assert.Empty(t, ByCategory("Toys"))
}

func TestGenerate(t *testing.T) {
	ps := Generate(1000)
	require.Len(t, ps, 1000)
	assert.Equal(t, "Premium Product 1", ps[0].Name)
	assert.Equal(t, "Deluxe Product 2", ps[1].Name)
	assert.Equal(t, "Clothing", ps[1].Category)
	assert.Equal(t, ps, Generate(1000))
	for _, p := range ps {
		assert.GreaterOrEqual(t, p.Rating, 3.0)
		assert.LessOrEqual(t, p.Rating, 5.0)
		assert.GreaterOrEqual(t, p.Price, 10.0)
	}
	assert.Empty(t, Generate(0))
}

func TestSearch(t *testing.T) {
	products := []Product{
		{ID: 1, Name: "Red Cotton Shirt", Category: "Clothing", Description: "soft"},
		{ID: 2, Name: "Blue Shoe", Category: "Clothing", Description: "fast"},
	}

	tbl := []struct {
		query string
		ids   []int
	}{
		{"red shirt", []int{1}},
		{"RED   Shirt", []int{1}},
		{"clothing", []int{1, 2}},
		{"shoe fast", []int{2}},
		{"red shoe", []int{}},
		{"", []int{}},
		{"   ", []int{}},
	}
	for _, tt := range tbl {
		t.Run(tt.query, func(t *testing.T) {
			ids := []int{}
			for _, p := range Search(products, tt.query, 0) {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}
}

func TestSearch_Limit(t *testing.T) {
	res := Search(Generate(1000), "premium", 10)
	require.Len(t, res, 10)
	assert.Equal(t, 1, res[0].ID)
	assert.Equal(t, 6, res[1].ID)

	res = Search(All(), "high-quality", 20)
	assert.Len(t, res, 20)
}

func TestFormat(t *testing.T) {
	p, ok := ByID(1)
	require.True(t, ok)
	f := Format(p)
	assert.Equal(t, "$299.00", f.FormattedPrice)
	assert.Equal(t, p, f.Product)
	assert.InDelta(t, 90, f.ComputedScore, 1e-9)
	assert.True(t, strings.HasSuffix(f.FormattedDescription, "..."))
	assert.Equal(t, p.Description[:100]+"...", f.FormattedDescription)
	assert.Equal(t, f, Format(p), "deterministic")

	short := Format(Product{Description: "short", Price: 19.5})
	assert.Equal(t, "short", short.FormattedDescription)
	assert.Equal(t, "$19.50", short.FormattedPrice)
}

func TestDetailDescription(t *testing.T) {
	d := DetailDescription(Product{Name: "Foam Roller"})
	assert.True(t, strings.HasPrefix(d, "This is a detailed description of Foam Roller."))
}
