package domain

import "context"

// Repository is the entitlement store. Implementations must perform Apply's
// read-compare-write atomically per user.
type Repository interface {
	Get(ctx context.Context, userID string) (*Entitlement, error)
	Apply(ctx context.Context, change Change) (ApplyResult, error)
	Repair(ctx context.Context, userID string, repair Repair) error
	Create(ctx context.Context, record *Entitlement) error
	ListByStatus(ctx context.Context, status Status) ([]Entitlement, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
