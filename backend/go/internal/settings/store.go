package settings

import (
	"BizAdvisor/backend/go/internal/models"
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store reads settings rows from the database and overlays them on defaults.
// Global rows (user_id 0) apply first, then the user's own rows.
type Store struct {
	db       *gorm.DB
	defaults Settings
}

// NewStore creates a database-backed Provider.
func NewStore(db *gorm.DB, defaults Settings) *Store {
	return &Store{db: db, defaults: defaults}
}

// Load implements Provider.
func (s *Store) Load(ctx context.Context, userID uint) (*Settings, error) {
	var rows []models.Setting
	err := s.db.WithContext(ctx).
		Where("user_id IN ?", []uint{GlobalUser, userID}).
		Order("user_id ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load settings for user %d: %w", userID, err)
	}

	out := s.defaults
	for _, row := range rows {
		out.apply(row.Key, row.Value)
	}
	return &out, nil
}

// Set upserts one setting for a user.
func (s *Store) Set(ctx context.Context, userID uint, key, value string) error {
	row := models.Setting{UserID: userID, Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	return nil
}

var _ Provider = (*Store)(nil)
var _ Provider = (*Static)(nil)
