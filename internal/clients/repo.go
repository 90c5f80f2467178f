package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	dbpkg "github.com/macroferro/macroferro-backend/pkg/db"
	"github.com/macroferro/macroferro-backend/pkg/db/models"
	pkgerrors "github.com/macroferro/macroferro-backend/pkg/errors"
)

const (
	clientIDPrefix = "CUST"
	clientIDStart  = 1000
)

// Repository manages customer identities keyed by email.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByEmail(ctx context.Context, email string) (*models.Client, error)
	// GetOrCreate returns the existing client for the email or materializes
	// a new one with the next sequential id. Safe under concurrent
	// first-time checkouts for the same email.
	GetOrCreate(ctx context.Context, draft models.Client) (*models.Client, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByEmail(ctx context.Context, email string) (*models.Client, error) {
	var client models.Client
	err := r.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "client not found")
		}
		return nil, err
	}
	return &client, nil
}

func (r *repository) GetOrCreate(ctx context.Context, draft models.Client) (*models.Client, error) {
	draft.Email = normalizeEmail(draft.Email)
	if draft.Email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "client email is required")
	}

	existing, err := r.FindByEmail(ctx, draft.Email)
	if err == nil {
		return existing, nil
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		return nil, err
	}

	next, err := r.nextClientID(ctx)
	if err != nil {
		return nil, err
	}
	draft.ClientID = next

	if err := r.db.WithContext(ctx).Create(&draft).Error; err != nil {
		// A concurrent first-time checkout won the race; adopt its row.
		if dbpkg.IsUniqueViolation(err, "email") {
			return r.FindByEmail(ctx, draft.Email)
		}
		return nil, err
	}
	return &draft, nil
}

// nextClientID claims the next CUSTnnnn id from the id_sequences counter. The
// counter row lock keeps two concurrent first-time checkouts with different
// emails from colliding on the same id.
func (r *repository) nextClientID(ctx context.Context) (string, error) {
	seq, err := dbpkg.NextSequence(ctx, r.db, dbpkg.SeqClientID, clientIDStart)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", clientIDPrefix, seq), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
