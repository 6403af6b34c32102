package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
	"gorm.io/datatypes"
)

const (
	ProviderRevenueCat = "revenuecat"
	ProviderStripe     = "stripe"
)

// Event log outcomes.
const (
	OutcomeCreated      = "created"
	OutcomeUpdated      = "updated"
	OutcomeStale        = "stale"
	OutcomeAcknowledged = "acknowledged"
)

// EventRecord is one row of the webhook event log.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_entitlement_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_entitlement_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:varchar(64);not null"`
	UserID          string         `json:"user_id" gorm:"type:varchar(128);index"`
	ResolvedStatus  string         `json:"resolved_status" gorm:"type:varchar(32)"`
	Outcome         string         `json:"outcome" gorm:"type:varchar(32);not null"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
}

func (EventRecord) TableName() string { return "entitlement_events" }

// Event is the provider-neutral form of a billing webhook. Instants are epoch
// millis; EventTimestampMs orders events for the same user.
type Event struct {
	Provider         string
	ProviderEventID  string
	Type             string
	UserID           string
	ProductID        string
	Environment      string
	PeriodType       string
	ExpiresAtMs      int64
	PurchasedAtMs    int64
	EventTimestampMs int64
	Entitlements     map[string]EntitlementState

	// AckOnly events are acknowledged without touching the store.
	AckOnly bool
	// Unknown marks a type the adapter has no mapping for.
	Unknown bool

	Status           entitlementdomain.Status
	Plan             *string
	CurrentPeriodEnd *int64
	TrialExpiresAt   *int64
	ClearPlan        bool
	ClearPeriodEnd   bool
	ClearTrial       bool

	RawPayload []byte
}

type EntitlementState struct {
	IsActive    bool  `json:"is_active"`
	ExpiresAtMs int64 `json:"expires_date_ms"`
}

// OrderingTimestamp picks the event time used for the stale-event guard: the
// provider's event timestamp, else the receive time. PurchasedAtMs dates the
// original purchase, not the event, and never orders events.
func (e Event) OrderingTimestamp(received time.Time) int64 {
	if e.EventTimestampMs > 0 {
		return e.EventTimestampMs
	}
	return received.UnixMilli()
}

// Result is what the ingestor reports back to the provider.
type Result struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message,omitempty"`
	UserID  string                   `json:"cognito_sub,omitempty"`
	Status  entitlementdomain.Status `json:"status,omitempty"`
	Plan    *string                  `json:"plan,omitempty"`
	Outcome string                   `json:"-"`
}

// Adapter verifies and normalizes one provider's webhook deliveries.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

type Service interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (Result, error)
}

// Repository persists the webhook event log.
type Repository interface {
	FindEvent(ctx context.Context, provider, providerEventID string) (*EventRecord, error)
	// InsertEvent reports false when the (provider, providerEventID) pair is
	// already logged.
	InsertEvent(ctx context.Context, record *EventRecord) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*EventRecord, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
