package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-checkout/internal/domain/product"
	"github.com/xenking/pos-checkout/internal/domain/promotion"
)

// ListProducts returns the catalog with effective prices. With ?barcode= it
// returns the single matching product.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if barcode := r.URL.Query().Get("barcode"); barcode != "" {
		p, err := h.products.GetByBarcode(r.Context(), barcode)
		if err != nil {
			fail(w, r, err)
			return
		}
		h.writeProduct(w, r, *p)
		return
	}

	products, err := h.products.List(r.Context())
	if err != nil {
		fail(w, r, errors.Wrap(err, "list products"))
		return
	}
	quotes, err := h.prices.Quotes(r.Context(), products)
	if err != nil {
		fail(w, r, errors.Wrap(err, "quote products"))
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, p := range products {
				encodeProduct(e, p, quotes[p.ID])
			}
		})
	})
}

// GetProduct returns a single product by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeProduct(w, r, *p)
}

func (h *Handler) writeProduct(w http.ResponseWriter, r *http.Request, p product.Product) {
	q, err := h.prices.Quote(r.Context(), p)
	if err != nil {
		fail(w, r, errors.Wrap(err, "quote product"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeProduct(e, p, q)
	})
}

func encodeProduct(e *jx.Encoder, p product.Product, q promotion.Quote) {
	effective := q.Price
	if q.ProductID == "" {
		effective = p.SellPrice
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("barcode", func(e *jx.Encoder) { encodeNullableStr(e, p.Barcode) })
		e.Field("stock", func(e *jx.Encoder) { encodeDecimal(e, p.Stock) })
		e.Field("buyPrice", func(e *jx.Encoder) { encodeDecimal(e, p.BuyPrice) })
		e.Field("sellPrice", func(e *jx.Encoder) { encodeDecimal(e, p.SellPrice) })
		e.Field("effectivePrice", func(e *jx.Encoder) { encodeDecimal(e, effective) })
		e.Field("promotionIds", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range q.PromotionIDs {
					e.Str(id)
				}
			})
		})
		e.Field("categoryId", func(e *jx.Encoder) { encodeNullableStr(e, p.CategoryID) })
		e.Field("unit", func(e *jx.Encoder) { e.Str(p.Unit) })
		e.Field("unitType", func(e *jx.Encoder) { e.Str(string(p.UnitType)) })
		e.Field("image", func(e *jx.Encoder) { encodeNullableStr(e, p.Image) })
		if !p.UpdatedAt.IsZero() {
			e.Field("updatedAt", func(e *jx.Encoder) { e.Str(p.UpdatedAt.UTC().Format(time.RFC3339)) })
		}
	})
}
