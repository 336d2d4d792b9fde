package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopcore/internal/coupons"
	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shopcore/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes the cart operations the storefront needs before checkout.
type Service interface {
	Get(ctx context.Context, owner Owner) (*models.Cart, error)
	SetItem(ctx context.Context, owner Owner, input SetItemInput) (*models.Cart, error)
	RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) (*models.Cart, error)
	ApplyCoupon(ctx context.Context, owner Owner, code string) (*models.Cart, error)
	RemoveCoupon(ctx context.Context, owner Owner) (*models.Cart, error)
}

// SetItemInput sets the quantity of one product or variant line.
type SetItemInput struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity" validate:"required,min=1,max=999"`
}

type service struct {
	repo *Repository
	tx   txRunner
}

// NewService builds a cart service.
func NewService(repo *Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Get(ctx context.Context, owner Owner) (*models.Cart, error) {
	if owner.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user or session id required")
	}
	cart, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) SetItem(ctx context.Context, owner Owner, input SetItemInput) (*models.Cart, error) {
	if owner.empty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user or session id required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := ensureProduct(ctx, tx, input); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		cart, err := s.findOrCreate(ctx, repo, owner)
		if err != nil {
			return err
		}
		return repo.UpsertItem(ctx, cart.ID, input.ProductID, input.VariantID, input.Quantity)
	})
	if err != nil {
		return nil, wrapDependency(err, "update cart item")
	}
	return s.Get(ctx, owner)
}

func (s *service) RemoveItem(ctx context.Context, owner Owner, itemID uuid.UUID) (*models.Cart, error) {
	cart, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := s.repo.RemoveItem(ctx, cart.ID, itemID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
	}
	return s.Get(ctx, owner)
}

// ApplyCoupon only attaches the code. Validity is decided at order placement
// when the coupon is locked.
func (s *service) ApplyCoupon(ctx context.Context, owner Owner, code string) (*models.Cart, error) {
	code = coupons.NormalizeCode(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	cart, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetCoupon(ctx, cart.ID, &code); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply coupon")
	}
	return s.Get(ctx, owner)
}

func (s *service) RemoveCoupon(ctx context.Context, owner Owner) (*models.Cart, error) {
	cart, err := s.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetCoupon(ctx, cart.ID, nil); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove coupon")
	}
	return s.Get(ctx, owner)
}

func (s *service) findOrCreate(ctx context.Context, repo *Repository, owner Owner) (*models.Cart, error) {
	cart, err := repo.FindByOwner(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !dbpkg.IsNotFound(err) {
		return nil, err
	}
	record := &models.Cart{UserID: owner.UserID}
	if owner.UserID == nil && owner.SessionID != "" {
		sessionID := owner.SessionID
		record.SessionID = &sessionID
	}
	return repo.Create(ctx, record)
}

func ensureProduct(ctx context.Context, tx *gorm.DB, input SetItemInput) error {
	var product models.Product
	if err := tx.WithContext(ctx).Where("id = ?", input.ProductID).Take(&product).Error; err != nil {
		if dbpkg.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return err
	}
	if !product.IsActive {
		return pkgerrors.New(pkgerrors.CodeValidation, "product is not available")
	}
	if input.VariantID == nil {
		return nil
	}
	var count int64
	if err := tx.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("id = ? AND product_id = ?", *input.VariantID, input.ProductID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product variant not found")
	}
	return nil
}

func wrapDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
