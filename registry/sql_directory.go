package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"healthrecords/models"
)

// identityRow is the identities table. bound_wallet holds the lowercase hex
// address so the unique index is case-insensitive.
type identityRow struct {
	AccountID      string `gorm:"primaryKey;size:64"`
	Role           string `gorm:"size:16;not null;index"`
	BoundWallet    string `gorm:"size:42;not null;uniqueIndex"`
	Name           string `gorm:"size:255"`
	Email          string `gorm:"size:255;index"`
	Phone          string `gorm:"size:32"`
	DateOfBirth    *time.Time
	Gender         string `gorm:"size:32"`
	BloodGroup     string `gorm:"size:8"`
	WeightKg       float64
	HeightCm       float64
	NationalID     string `gorm:"size:32"`
	Description    string
	Qualification  string `gorm:"size:255"`
	Specialization string `gorm:"size:255"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (identityRow) TableName() string {
	return "identities"
}

// OpenSQLite opens (or creates) a sqlite database for the directory and the
// credential store. A single connection keeps sqlite writers serialised.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

type SQLDirectory struct {
	db *gorm.DB
}

func NewSQLDirectory(db *gorm.DB) (*SQLDirectory, error) {
	if err := db.AutoMigrate(&identityRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate identities table: %w", err)
	}
	return &SQLDirectory{db: db}, nil
}

func (d *SQLDirectory) FindByWallet(ctx context.Context, address common.Address) (*models.Identity, error) {
	return d.findOne(ctx, "bound_wallet = ?", models.WalletKey(address))
}

func (d *SQLDirectory) FindByAccountID(ctx context.Context, accountID string) (*models.Identity, error) {
	return d.findOne(ctx, "account_id = ?", accountID)
}

func (d *SQLDirectory) findOne(ctx context.Context, query string, arg interface{}) (*models.Identity, error) {
	var row identityRow
	err := d.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return row.toIdentity(), nil
}

// Create inserts the identity. The pre-checks give precise errors in the
// common case; the unique indexes settle concurrent registrations.
func (d *SQLDirectory) Create(ctx context.Context, identity *models.Identity) error {
	if err := validateIdentity(identity); err != nil {
		return &models.ValidationError{Field: "identity", Message: err.Error()}
	}

	row := rowFromIdentity(identity)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if exists, err := rowExists(tx, "account_id = ?", row.AccountID); err != nil {
			return err
		} else if exists {
			return models.ErrDuplicateAccount
		}
		if exists, err := rowExists(tx, "bound_wallet = ?", row.BoundWallet); err != nil {
			return err
		} else if exists {
			return models.ErrWalletAlreadyBound
		}
		return tx.Create(&row).Error
	})
	if err == nil {
		identity.CreatedAt = row.CreatedAt
		identity.UpdatedAt = row.UpdatedAt
		return nil
	}

	switch {
	case errors.Is(err, models.ErrDuplicateAccount), errors.Is(err, models.ErrWalletAlreadyBound):
		return err
	case isDuplicateKey(err):
		return d.classifyConflict(ctx, row)
	default:
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
}

// classifyConflict works out which unique key a lost insert race collided on.
func (d *SQLDirectory) classifyConflict(ctx context.Context, row identityRow) error {
	exists, err := rowExists(d.db.WithContext(ctx), "account_id = ?", row.AccountID)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	if exists {
		return models.ErrDuplicateAccount
	}
	return models.ErrWalletAlreadyBound
}

func (d *SQLDirectory) UpdateProfile(ctx context.Context, accountID string, profile models.Profile) (*models.Identity, error) {
	var row identityRow
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).First(&row).Error; err != nil {
			return err
		}
		row.applyProfile(profile)
		return tx.Save(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrBackendUnavailable, err)
	}
	return row.toIdentity(), nil
}

func rowExists(tx *gorm.DB, query string, arg interface{}) (bool, error) {
	var count int64
	if err := tx.Model(&identityRow{}).Where(query, arg).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func rowFromIdentity(identity *models.Identity) identityRow {
	row := identityRow{
		AccountID:   identity.AccountID,
		Role:        string(identity.Role),
		BoundWallet: models.WalletKey(identity.BoundWallet),
	}
	row.applyProfile(identity.Profile)
	return row
}

func (r *identityRow) applyProfile(p models.Profile) {
	r.Name = p.Name
	r.Email = p.Email
	r.Phone = p.Phone
	r.DateOfBirth = nil
	if !p.DateOfBirth.IsZero() {
		dob := p.DateOfBirth
		r.DateOfBirth = &dob
	}
	r.Gender = p.Gender
	r.BloodGroup = p.BloodGroup
	r.WeightKg = p.WeightKg
	r.HeightCm = p.HeightCm
	r.NationalID = p.NationalID
	r.Description = p.Description
	r.Qualification = p.Qualification
	r.Specialization = p.Specialization
}

func (r identityRow) toIdentity() *models.Identity {
	identity := &models.Identity{
		AccountID:   r.AccountID,
		Role:        models.Role(r.Role),
		BoundWallet: common.HexToAddress(r.BoundWallet),
		Profile: models.Profile{
			Name:           r.Name,
			Email:          r.Email,
			Phone:          r.Phone,
			Gender:         r.Gender,
			BloodGroup:     r.BloodGroup,
			WeightKg:       r.WeightKg,
			HeightCm:       r.HeightCm,
			NationalID:     r.NationalID,
			Description:    r.Description,
			Qualification:  r.Qualification,
			Specialization: r.Specialization,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.DateOfBirth != nil {
		identity.Profile.DateOfBirth = *r.DateOfBirth
	}
	return identity
}
