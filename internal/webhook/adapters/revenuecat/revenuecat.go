package revenuecat

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/predixa/entitlements/internal/config"
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
	"github.com/predixa/entitlements/internal/webhook/domain"
)

const (
	SignatureHeader     = "X-RevenueCat-Signature"
	AuthorizationHeader = "Authorization"
)

// RevenueCat event types.
const (
	EventInitialPurchase = "INITIAL_PURCHASE"
	EventRenewal         = "RENEWAL"
	EventUncancellation  = "UNCANCELLATION"
	EventCancellation    = "CANCELLATION"
	EventExpiration      = "EXPIRATION"
	EventBillingIssue    = "BILLING_ISSUE"
	EventTest            = "TEST"
)

type Adapter struct {
	secret        string
	authorization string
}

func NewAdapter(cfg config.Config) *Adapter {
	return &Adapter{
		secret:        cfg.RevenueCatWebhookSecret,
		authorization: cfg.RevenueCatWebhookAuth,
	}
}

func (a *Adapter) Provider() string {
	return domain.ProviderRevenueCat
}

// Verify accepts an HMAC-SHA256 hex digest of the raw body, or the shared
// Authorization header value when that is all that is configured.
func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	if a.secret == "" && a.authorization == "" {
		return domain.ErrNotConfigured
	}

	if a.secret != "" {
		signature := strings.TrimSpace(headers.Get(SignatureHeader))
		if signature != "" {
			if validHMAC(a.secret, payload, signature) {
				return nil
			}
			return domain.ErrInvalidSignature
		}
	}

	if a.authorization != "" {
		value := strings.TrimSpace(headers.Get(AuthorizationHeader))
		if value != "" && (constantEqual(value, a.authorization) || constantEqual(value, "Bearer "+a.authorization)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(_ context.Context, payload []byte) (*domain.Event, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if envelope.Event == nil {
		return nil, domain.ErrInvalidPayload
	}
	event := envelope.Event

	userID := strings.TrimSpace(event.AppUserID)
	if userID == "" {
		userID = strings.TrimSpace(envelope.AppUserID)
	}
	eventType := strings.ToUpper(strings.TrimSpace(event.Type))

	out := &domain.Event{
		Provider:         domain.ProviderRevenueCat,
		ProviderEventID:  strings.TrimSpace(event.ID),
		Type:             eventType,
		UserID:           userID,
		ProductID:        strings.TrimSpace(event.ProductID),
		Environment:      strings.ToLower(strings.TrimSpace(event.Environment)),
		PeriodType:       strings.ToLower(strings.TrimSpace(event.PeriodType)),
		ExpiresAtMs:      event.ExpirationAtMs,
		PurchasedAtMs:    event.PurchasedAtMs,
		EventTimestampMs: event.EventTimestampMs,
		Entitlements:     event.Entitlements,
		RawPayload:       payload,
	}

	if eventType == EventTest {
		out.AckOnly = true
		return out, nil
	}
	if userID == "" {
		return nil, domain.ErrMissingUser
	}

	out.Status, out.Unknown = MapEventType(eventType)
	if anyEntitlementActive(event.Entitlements) && eventType != EventCancellation && eventType != EventExpiration {
		out.Status = entitlementdomain.StatusActive
	}
	if out.ProductID != "" {
		plan := out.ProductID
		out.Plan = &plan
	}
	if event.ExpirationAtMs > 0 {
		end := event.ExpirationAtMs / 1000
		out.CurrentPeriodEnd = &end
	}
	return out, nil
}

// MapEventType converts a RevenueCat event type to a stored status. unknown
// is true for types outside the mapping, which fall back to inactive.
func MapEventType(eventType string) (status entitlementdomain.Status, unknown bool) {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case EventInitialPurchase, EventRenewal, EventUncancellation:
		return entitlementdomain.StatusActive, false
	case EventCancellation, EventExpiration:
		return entitlementdomain.StatusCanceled, false
	case EventBillingIssue:
		return entitlementdomain.StatusPastDue, false
	default:
		return entitlementdomain.StatusInactive, true
	}
}

type webhookEnvelope struct {
	APIVersion string        `json:"api_version"`
	AppUserID  string        `json:"app_user_id"`
	Event      *webhookEvent `json:"event"`
}

type webhookEvent struct {
	ID               string                             `json:"id"`
	Type             string                             `json:"type"`
	AppUserID        string                             `json:"app_user_id"`
	ProductID        string                             `json:"product_id"`
	Environment      string                             `json:"environment"`
	PeriodType       string                             `json:"period_type"`
	PurchasedAtMs    int64                              `json:"purchased_at_ms"`
	ExpirationAtMs   int64                              `json:"expiration_at_ms"`
	EventTimestampMs int64                              `json:"event_timestamp_ms"`
	Entitlements     map[string]domain.EntitlementState `json:"entitlements"`
}

func anyEntitlementActive(entitlements map[string]domain.EntitlementState) bool {
	for _, state := range entitlements {
		if state.IsActive {
			return true
		}
	}
	return false
}

// Sign returns the signature header value for payload. Used by tests and
// local tooling that replays deliveries.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validHMAC(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	signature = strings.TrimPrefix(strings.ToLower(signature), "sha256=")
	return hmac.Equal([]byte(signature), []byte(expected))
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
