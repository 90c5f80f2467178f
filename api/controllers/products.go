package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/macroferro/macroferro-backend/api/responses"
	"github.com/macroferro/macroferro-backend/api/validators"
	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

type productSummary struct {
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Brand    string          `json:"brand,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category,omitempty"`
}

type productDetail struct {
	productSummary
	Description string         `json:"description,omitempty"`
	Specs       map[string]any `json:"specs,omitempty"`
	Stock       int            `json:"stock"`
	Images      []string       `json:"images,omitempty"`
}

type ProductsController struct {
	catalog catalog.Repository
	logg    *logger.Logger
}

func NewProductsController(repo catalog.Repository, logg *logger.Logger) *ProductsController {
	return &ProductsController{catalog: repo, logg: logg}
}

func (c *ProductsController) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 10000)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	filter := catalog.ListFilter{
		Brand:  validators.SanitizeString(r.URL.Query().Get("brand"), 100),
		Limit:  limit,
		Offset: offset,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			responses.WriteError(ctx, c.logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "category must be numeric"))
			return
		}
		filter.CategoryID = &id
	}

	products, err := c.catalog.List(ctx, filter)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	out := make([]productSummary, 0, len(products))
	for _, p := range products {
		out = append(out, toProductSummary(p))
	}
	responses.WriteSuccess(w, out)
}

func (c *ProductsController) GetBySKU(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sku := strings.ToUpper(validators.SanitizeString(chi.URLParam(r, "sku"), 64))
	if sku == "" {
		responses.WriteError(ctx, c.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sku is required"))
		return
	}

	product, err := c.catalog.FindBySKU(ctx, sku)
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}
	responses.WriteSuccess(w, toProductDetail(product))
}

type categoryEntry struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	ParentID *int   `json:"parent_id,omitempty"`
}

// ListCategories returns the category roots, or one category's children when
// parent is given.
func (c *ProductsController) ListCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		categories []models.Category
		err        error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("parent")); raw != "" {
		parentID, convErr := strconv.Atoi(raw)
		if convErr != nil {
			responses.WriteError(ctx, c.logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "parent must be numeric"))
			return
		}
		categories, err = c.catalog.ChildCategories(ctx, parentID)
	} else {
		categories, err = c.catalog.RootCategories(ctx)
	}
	if err != nil {
		responses.WriteError(ctx, c.logg, w, err)
		return
	}

	out := make([]categoryEntry, 0, len(categories))
	for _, cat := range categories {
		out = append(out, categoryEntry{ID: cat.ID, Name: cat.Name, ParentID: cat.ParentID})
	}
	responses.WriteSuccess(w, out)
}

func toProductSummary(p models.Product) productSummary {
	out := productSummary{
		SKU:   p.SKU,
		Name:  p.Name,
		Price: p.Price,
	}
	if p.Brand != nil {
		out.Brand = *p.Brand
	}
	if p.Category != nil {
		out.Category = p.Category.Name
	}
	return out
}

func toProductDetail(p *models.Product) productDetail {
	out := productDetail{productSummary: toProductSummary(*p)}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if len(p.Specs) > 0 {
		out.Specs = p.Specs
	}
	for _, s := range p.Stock {
		out.Stock += s.Quantity
	}
	for _, img := range p.Images {
		out.Images = append(out.Images, img.URL)
	}
	return out
}
