package whitelist

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("whitelist")

// GormStore is the durable Store implementation, on sqlite or postgres via
// gorm. Positive lookups are cached in-process; the whitelist is consulted
// for every inbound private message, and almost all of those are from
// already-trusted senders.
type GormStore struct {
	db    *gorm.DB
	cache *lru.Cache[int64, bool]
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&TrustedSender{}); err != nil {
		return nil, err
	}

	// only trusted senders are cached, so Revoke stays a simple invalidation
	cache, _ := lru.New[int64, bool](100_000)

	return &GormStore{
		db:    db,
		cache: cache,
	}, nil
}

func (s *GormStore) IsTrusted(ctx context.Context, senderID int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "IsTrusted")
	defer span.End()

	if _, ok := s.cache.Get(senderID); ok {
		return true, nil
	}

	var entry TrustedSender
	if err := s.db.WithContext(ctx).First(&entry, "sender_id = ?", senderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}

	s.cache.Add(senderID, true)
	return true, nil
}

func (s *GormStore) Trust(ctx context.Context, senderID int64) error {
	ctx, span := tracer.Start(ctx, "Trust")
	defer span.End()

	entry := TrustedSender{SenderID: senderID}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error; err != nil {
		return err
	}
	s.cache.Add(senderID, true)
	return nil
}

func (s *GormStore) Revoke(ctx context.Context, senderID int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "Revoke")
	defer span.End()

	s.cache.Remove(senderID)
	res := s.db.WithContext(ctx).Delete(&TrustedSender{}, "sender_id = ?", senderID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) List(ctx context.Context) ([]TrustedSender, error) {
	var entries []TrustedSender
	if err := s.db.WithContext(ctx).Order("created_at").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *GormStore) Size(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&TrustedSender{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

var _ Store = (*GormStore)(nil)
