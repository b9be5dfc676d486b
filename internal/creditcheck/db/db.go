// Package db is the GORM-backed storage layer for credit checks and their
// risk observations.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	e "github.com/gartstein/creditcheck/internal/creditcheck/errors"
	"github.com/gartstein/creditcheck/internal/creditcheck/models"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	infoBatchSize = 100
)

type Repository struct {
	db *gorm.DB
}

type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the SQLite database file, used when Driver is sqlite.
	Path string
}

func NewRepository(cfg *Config) (*Repository, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
		}
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return &Repository{db: db}, nil
}

// NewRepositoryFromDB wraps an already opened connection.
func NewRepositoryFromDB(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the credit_check and credit_check_info tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.CreditCheck{}, &models.CreditCheckInfo{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func dialectorFor(cfg *Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
		return postgres.Open(dsn), nil
	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = "file::memory:"
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return sqlite.Open(path + sep + "_foreign_keys=on"), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (r *Repository) CreateCreditCheck(ctx context.Context, cc *models.CreditCheck) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(cc).Error
}

// ActiveCreditCheckExists reports whether the client already has a pending or
// successful credit check for the corporation.
func (r *Repository) ActiveCreditCheckExists(ctx context.Context, clientID int64, corporationNumber string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.CreditCheck{}).
		Where("client_id = ? AND corporation_number = ? AND status IN ?",
			clientID, corporationNumber, models.ActiveStatuses).
		Limit(1).
		Count(&count)
	return count > 0, result.Error
}

// UpdateCreditCheck writes every column of cc except the primary key and
// creation time. Infos are not touched.
func (r *Repository) UpdateCreditCheck(ctx context.Context, cc *models.CreditCheck) error {
	result := r.db.WithContext(ctx).Model(&models.CreditCheck{}).
		Where("id = ?", cc.ID).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(cc)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) error {
	result := r.db.WithContext(ctx).Model(&models.CreditCheck{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// CreateInfos bulk inserts risk observations.
func (r *Repository) CreateInfos(ctx context.Context, infos []models.CreditCheckInfo) error {
	if len(infos) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&infos, infoBatchSize).Error
}

func (r *Repository) GetCreditCheck(ctx context.Context, id uuid.UUID) (*models.CreditCheck, error) {
	var cc models.CreditCheck
	result := r.db.WithContext(ctx).
		Preload("Infos", func(db *gorm.DB) *gorm.DB {
			return db.Order("received_on DESC, id ASC")
		}).
		First(&cc, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &cc, nil
}

// ListCreditChecks returns the client's credit checks, newest first.
func (r *Repository) ListCreditChecks(ctx context.Context, clientID int64, filter models.CreditCheckFilter) ([]models.CreditCheck, error) {
	query := r.db.WithContext(ctx).Where("client_id = ?", clientID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CorporationNumber != "" {
		query = query.Where("corporation_number = ?", filter.CorporationNumber)
	}

	var checks []models.CreditCheck
	if err := query.Order("created_at DESC, id DESC").Find(&checks).Error; err != nil {
		return nil, err
	}
	return checks, nil
}

// ListInfos returns the client's risk observations, most recent observation first.
func (r *Repository) ListInfos(ctx context.Context, clientID int64, filter models.InfoFilter) ([]models.CreditCheckInfo, error) {
	query := r.db.WithContext(ctx).
		Joins("JOIN credit_check ON credit_check.id = credit_check_info.credit_check_id").
		Where("credit_check.client_id = ?", clientID)
	if filter.CorporationNumber != "" {
		query = query.Where("credit_check.corporation_number = ?", filter.CorporationNumber)
	}
	if filter.Tag != "" {
		query = query.Where("credit_check_info.tag = ?", filter.Tag)
	}

	var infos []models.CreditCheckInfo
	err := query.
		Order("credit_check_info.received_on DESC, credit_check_info.id ASC").
		Find(&infos).Error
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// DeleteCreditCheck removes a credit check together with its infos.
func (r *Repository) DeleteCreditCheck(ctx context.Context, id uuid.UUID) error {
	return r.WithTransaction(ctx, func(repo *Repository) error {
		if err := repo.db.Where("credit_check_id = ?", id).Delete(&models.CreditCheckInfo{}).Error; err != nil {
			return err
		}
		result := repo.db.Delete(&models.CreditCheck{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return e.ErrNotFound
		}
		return nil
	})
}

func (r *Repository) WithTransaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

// Exec runs a raw statement, for maintenance and tests.
func (r *Repository) Exec(ctx context.Context, sql string, values ...interface{}) error {
	return r.db.WithContext(ctx).Exec(sql, values...).Error
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
