package repository

import (
	"context"
	"time"

	"github.com/predixa/entitlements/internal/webhook/domain"
	"github.com/predixa/entitlements/pkg/db"
	"github.com/predixa/entitlements/pkg/repository"
	"gorm.io/gorm"
)

type repo struct {
	events repository.Repository[domain.EventRecord]
}

func Provide(conn *gorm.DB) domain.Repository {
	return &repo{events: repository.ProvideStore[domain.EventRecord](conn)}
}

func (r *repo) FindEvent(ctx context.Context, provider, providerEventID string) (*domain.EventRecord, error) {
	return r.events.FindOne(ctx, &domain.EventRecord{
		Provider:        provider,
		ProviderEventID: providerEventID,
	})
}

func (r *repo) InsertEvent(ctx context.Context, record *domain.EventRecord) (bool, error) {
	if err := r.events.Create(ctx, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.EventRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return r.events.Find(ctx,
		&domain.EventRecord{UserID: userID},
		repository.OrderBy("received_at DESC"),
		repository.Limit(limit),
	)
}

func (r *repo) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.events.DeleteWhere(ctx, "received_at < ?", cutoff)
}
