package settingstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EngineSetting struct {
	Name      string `gorm:"column:name;primarykey"`
	Val       string `gorm:"column:val"`
	UpdatedAt time.Time
}

func (EngineSetting) TableName() string {
	return "engine_setting"
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&EngineSetting{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, name string) (string, error) {
	var setting EngineSetting
	if err := s.db.WithContext(ctx).First(&setting, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return setting.Val, nil
}

func (s *GormStore) Set(ctx context.Context, name, val string) error {
	setting := EngineSetting{Name: name, Val: val}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"val", "updated_at"}),
	}).Create(&setting).Error
}

func (s *GormStore) All(ctx context.Context) (map[string]string, error) {
	var settings []EngineSetting
	if err := s.db.WithContext(ctx).Find(&settings).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(settings))
	for _, setting := range settings {
		out[setting.Name] = setting.Val
	}
	return out, nil
}

var _ SettingStore = (*GormStore)(nil)
