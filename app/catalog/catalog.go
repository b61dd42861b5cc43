// Package catalog provides the fixed product list, the larger generated dataset used by the worker
// search and product formatting shared by worker and in-place paths.
package catalog

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Product is a catalog item, json names match the page and worker payloads
type Product struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Price       float64 `json:"price"`
	Category    string  `json:"category"`
	Rating      float64 `json:"rating"`
	InStock     bool    `json:"inStock"`
	Image       string  `json:"image,omitempty"`
	ImageAlt    string  `json:"imageAlt,omitempty"`
}

// Categories of products in display order
var Categories = []string{"Electronics", "Clothing", "Home", "Sports", "Books"}

var names = map[string][]string{
	"Electronics": {"Wireless Bluetooth Headphones", "Smart Fitness Watch", "Portable Phone Charger", "HD Webcam",
		"Mechanical Keyboard", "4K Action Camera"},
	"Clothing": {"Premium Cotton T-Shirt", "Denim Jacket", "Running Sneakers", "Casual Summer Dress",
		"Winter Wool Coat", "Athletic Joggers"},
	"Home": {"Modern Table Lamp", "Decorative Wall Mirror", "Ceramic Coffee Mug Set", "Bamboo Cutting Board",
		"Cozy Throw Blanket", "Minimalist Wall Clock"},
	"Sports": {"Yoga Mat Pro", "Resistance Band Set", "Water Bottle Steel", "Foam Roller", "Workout Gloves", "Jump Rope"},
	"Books": {"Productivity Handbook", "Creative Writing Guide", "Photography Masterclass", "Cooking Essentials",
		"Mindfulness Journal", "Tech Innovation Book"},
}

var prices = []float64{
	299, 149, 89, 199, 249, 399,
	45, 129, 179, 69, 199, 89,
	79, 149, 39, 49, 59, 99,
	49, 79, 35, 45, 29, 39,
	29, 24, 34, 19, 22, 27,
}

var ratings = []float64{
	4.5, 4.2, 4.7, 4.3, 4.6, 4.8,
	4.4, 4.1, 4.5, 4.3, 4.7, 4.2,
	4.6, 4.4, 4.3, 4.5, 4.2, 4.7,
	4.8, 4.6, 4.4, 4.5, 4.3, 4.7,
	4.4, 4.2, 4.6, 4.5, 4.3, 4.1,
}

var inStock = []bool{
	true, true, true, true, true, true,
	true, true, true, false, true, true,
	true, true, true, true, true, true,
	true, true, true, true, false, true,
	true, true, true, true, true, true,
}

var (
	once     sync.Once
	products []Product
)

// All returns the 30 fixed products. The slice is shared, callers must not modify it.
func All() []Product {
	once.Do(func() {
		products = make([]Product, 0, len(prices))
		for i := range prices {
			category := Categories[i%len(Categories)]
			catNames := names[category]
			name := catNames[i%len(catNames)]
			products = append(products, Product{
				ID:   i + 1,
				Name: name,
				Description: fmt.Sprintf("High-quality %s product with excellent features and reliable performance. "+
					"Perfect for everyday use.", strings.ToLower(category)),
				Price:    prices[i],
				Category: category,
				Rating:   ratings[i],
				InStock:  inStock[i],
				ImageAlt: fmt.Sprintf("%s - Product %d", name, i+1),
			})
		}
	})
	return products
}

// ByID returns product by id
func ByID(id int) (Product, bool) {
	for _, p := range All() {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// ByCategory returns products of the category
func ByCategory(category string) []Product {
	res := []Product{}
	for _, p := range All() {
		if p.Category == category {
			res = append(res, p)
		}
	}
	return res
}

// Generate makes n synthetic products, deterministic for the same n
func Generate(n int) []Product {
	adjectives := []string{"Premium", "Deluxe", "Essential", "Pro", "Classic"}
	res := make([]Product, 0, n)
	for i := 0; i < n; i++ {
		category := Categories[i%len(Categories)]
		res = append(res, Product{
			ID:   i + 1,
			Name: fmt.Sprintf("%s Product %d", adjectives[i%len(adjectives)], i+1),
			Description: fmt.Sprintf("High-quality %s item with excellent features and reliable performance.",
				strings.ToLower(category)),
			Price:    float64(10 + (i*37)%500),
			Category: category,
			Rating:   3 + float64((i*7)%21)/10,
			InStock:  i%10 != 0,
		})
	}
	return res
}

// DetailDescription is the long text on the product page
func DetailDescription(p Product) string {
	return fmt.Sprintf("This is a detailed description of %s. It features excellent build quality, innovative design, "+
		"and outstanding performance. Perfect for both professional and personal use, this product represents the "+
		"pinnacle of modern engineering and craftsmanship. Made with premium materials and attention to detail.", p.Name)
}

// Terms splits a query into lowercase whitespace-separated terms
func Terms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Match checks that every term is contained in name, description or category, case-insensitive
func Match(p Product, terms []string) bool {
	name, desc, cat := strings.ToLower(p.Name), strings.ToLower(p.Description), strings.ToLower(p.Category)
	for _, term := range terms {
		if !strings.Contains(name, term) && !strings.Contains(desc, term) && !strings.Contains(cat, term) {
			return false
		}
	}
	return true
}

// Search filters products by query, up to limit results, limit <= 0 means no limit.
// A query without terms matches nothing.
func Search(products []Product, query string, limit int) []Product {
	terms := Terms(query)
	res := []Product{}
	if len(terms) == 0 {
		return res
	}
	for _, p := range products {
		if !Match(p, terms) {
			continue
		}
		res = append(res, p)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res
}

const maxFormattedDescription = 100

// Formatted is a product prepared for display
type Formatted struct {
	Product
	FormattedPrice       string  `json:"formattedPrice"`
	FormattedDescription string  `json:"formattedDescription"`
	ComputedScore        float64 `json:"computedScore"`
}

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatPrice renders price as US dollars
func FormatPrice(price float64) string {
	return printer.Sprintf("$%.2f", price)
}

// Format prepares the product for display, deterministic for the same product
func Format(p Product) Formatted {
	desc := p.Description
	if utf8.RuneCountInString(desc) > maxFormattedDescription {
		desc = string([]rune(desc)[:maxFormattedDescription]) + "..."
	}
	return Formatted{
		Product:              p,
		FormattedPrice:       FormatPrice(p.Price),
		FormattedDescription: desc,
		ComputedScore:        p.Rating * 20,
	}
}
