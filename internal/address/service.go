package address

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopcore/pkg/db"
	"github.com/angelmondragon/shopcore/pkg/db/models"
	"github.com/angelmondragon/shopcore/pkg/errors"
)

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*models.Address, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.Address, error)
	// ResolveOwned loads an address through tx and checks that userID owns it.
	ResolveOwned(ctx context.Context, tx *gorm.DB, userID, addressID uuid.UUID) (*models.Address, error)
}

// CreateInput is the payload for saving an address.
type CreateInput struct {
	FullName   string  `json:"full_name" validate:"required,max=120"`
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string  `json:"city" validate:"required,max=100"`
	State      string  `json:"state" validate:"required,max=100"`
	PostalCode string  `json:"postal_code" validate:"required,max=20"`
	Country    string  `json:"country" validate:"required,len=2"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("address repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*models.Address, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeUnauthorized, "user required")
	}
	addr := &models.Address{
		UserID:     userID,
		FullName:   strings.TrimSpace(input.FullName),
		Line1:      strings.TrimSpace(input.Line1),
		Line2:      input.Line2,
		City:       strings.TrimSpace(input.City),
		State:      strings.TrimSpace(input.State),
		PostalCode: strings.TrimSpace(input.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(input.Country)),
		Phone:      input.Phone,
	}
	if addr.Line1 == "" || addr.City == "" || addr.PostalCode == "" {
		return nil, errors.New(errors.CodeValidation, "line1, city and postal_code are required")
	}
	created, err := s.repo.Create(ctx, addr)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "create address")
	}
	return created, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]models.Address, error) {
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "list addresses")
	}
	return rows, nil
}

func (s *service) ResolveOwned(ctx context.Context, tx *gorm.DB, userID, addressID uuid.UUID) (*models.Address, error) {
	addr, err := s.repo.WithTx(tx).FindByID(ctx, addressID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, errors.New(errors.CodeNotFound, "address not found").
				WithDetails(map[string]any{"address_id": addressID})
		}
		return nil, errors.Wrap(errors.CodeDependency, err, "load address")
	}
	if addr.UserID != userID {
		return nil, errors.New(errors.CodeForbidden, "address does not belong to user")
	}
	return addr, nil
}
