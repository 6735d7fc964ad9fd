// Package catalog defines the product catalog: products and the categories
// they are grouped in.
package catalog

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/wolfman30/clinic-console/internal/views"
)

const (
	ProductsEntity   = "products"
	CategoriesEntity = "categories"
)

// Product is a sellable item or treatment package.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SKU        string `json:"sku,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
	IsActive   bool   `json:"isActive"`
}

func (p Product) EntityID() string { return p.ID }

func (p Product) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.PriceCents, validation.Min(int64(0))),
		validation.Field(&p.Currency, validation.Required, is.CurrencyCode),
	)
}

// Price renders the amount, e.g. "125.00 USD".
func (p Product) Price() string {
	return fmt.Sprintf("%d.%02d %s", p.PriceCents/100, p.PriceCents%100, p.Currency)
}

// ProductRequest creates a product.
type ProductRequest struct {
	Name       string `json:"name"`
	SKU        string `json:"sku,omitempty"`
	CategoryID string `json:"categoryId,omitempty"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
}

func (r *ProductRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.SKU, validation.Length(0, 64), is.PrintableASCII),
		validation.Field(&r.PriceCents, validation.Min(int64(0))),
		validation.Field(&r.Currency, validation.Required, is.CurrencyCode),
	)
}

// ProductUpdate changes selected product fields.
type ProductUpdate struct {
	Name       *string `json:"name,omitempty"`
	SKU        *string `json:"sku,omitempty"`
	CategoryID *string `json:"categoryId,omitempty"`
	PriceCents *int64  `json:"priceCents,omitempty"`
	Currency   *string `json:"currency,omitempty"`
}

func (r *ProductUpdate) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.SKU, validation.Length(0, 64), is.PrintableASCII),
		validation.Field(&r.PriceCents, validation.Min(int64(0))),
		validation.Field(&r.Currency, validation.NilOrNotEmpty, is.CurrencyCode),
	)
}

// Category groups products.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsActive    bool   `json:"isActive"`
}

func (c Category) EntityID() string { return c.ID }

func (c Category) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Name, validation.Required),
	)
}

// CategoryRequest creates a category or renames one.
type CategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (r *CategoryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Description, validation.Length(0, 1000)),
	)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// ProductDefinition wires products into the shared list view machinery.
func ProductDefinition() views.Definition[Product] {
	return views.Definition[Product]{
		Entity: ProductsEntity,
		Patches: views.Patches[Product]{
			Deactivate: func(p Product) Product { p.IsActive = false; return p },
			Reactivate: func(p Product) Product { p.IsActive = true; return p },
		},
		NewCreate:      func() validation.Validatable { return &ProductRequest{} },
		NewUpdate:      func() validation.Validatable { return &ProductUpdate{} },
		ValidateFilter: views.ActivityFilter,
		Columns:        []string{"ID", "NAME", "SKU", "CATEGORY", "PRICE", "ACTIVE"},
		Row: func(p Product) []string {
			return []string{p.ID, p.Name, p.SKU, p.CategoryID, p.Price(), yesNo(p.IsActive)}
		},
	}
}

// CategoryDefinition wires categories into the shared list view machinery.
func CategoryDefinition() views.Definition[Category] {
	return views.Definition[Category]{
		Entity: CategoriesEntity,
		Patches: views.Patches[Category]{
			Deactivate: func(c Category) Category { c.IsActive = false; return c },
			Reactivate: func(c Category) Category { c.IsActive = true; return c },
		},
		NewCreate:      func() validation.Validatable { return &CategoryRequest{} },
		NewUpdate:      func() validation.Validatable { return &CategoryRequest{} },
		ValidateFilter: views.ActivityFilter,
		Columns:        []string{"ID", "NAME", "DESCRIPTION", "ACTIVE"},
		Row: func(c Category) []string {
			return []string{c.ID, c.Name, c.Description, yesNo(c.IsActive)}
		},
	}
}

// NewProducts builds the products collection.
func NewProducts(deps views.Deps) *views.Collection[Product] {
	return views.NewCollection(ProductDefinition(), deps)
}

// NewCategories builds the categories collection.
func NewCategories(deps views.Deps) *views.Collection[Category] {
	return views.NewCollection(CategoryDefinition(), deps)
}
