package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/shopcore/internal/inventory"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

// Line is a priced cart line ready to become an order item.
type Line struct {
	Ref            inventory.Ref
	VendorID       *uuid.UUID
	SKU            string
	Title          string
	Quantity       int
	UnitPriceCents int64
	TotalCents     int64
	TaxCents       int64
}

// buildLines prices cart items from their current product or variant rows.
// Lines for the same stock row are merged so each row is reserved once.
func buildLines(items []models.CartItem) ([]Line, error) {
	lines := make([]Line, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart item quantity must be positive").
				WithDetails(map[string]any{"cart_item_id": item.ID})
		}
		if item.Product == nil || !item.Product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not available").
				WithDetails(map[string]any{"product_id": item.ProductID})
		}

		line := Line{
			Ref:            inventory.Ref{ProductID: item.ProductID},
			VendorID:       item.Product.VendorID,
			SKU:            item.Product.SKU,
			Title:          item.Product.Title,
			Quantity:       item.Quantity,
			UnitPriceCents: item.Product.PriceCents,
		}
		if item.ProductVariantID != nil {
			if item.Variant == nil || item.Variant.ProductID != item.ProductID {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product variant not available").
					WithDetails(map[string]any{"product_variant_id": item.ProductVariantID})
			}
			variantID := item.Variant.ID
			line.Ref.VariantID = &variantID
			line.SKU = item.Variant.SKU
			line.Title = item.Product.Title + " - " + item.Variant.Title
			line.UnitPriceCents = item.Variant.PriceCents
		}

		if at, ok := index[line.Ref.StockID()]; ok {
			lines[at].Quantity += line.Quantity
			lines[at].TotalCents = lines[at].UnitPriceCents * int64(lines[at].Quantity)
			continue
		}
		line.TotalCents = line.UnitPriceCents * int64(line.Quantity)
		index[line.Ref.StockID()] = len(lines)
		lines = append(lines, line)
	}
	return lines, nil
}
