package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "revenuecat"),
		attribute.String("cognito_sub", "user-1"),
		attribute.String("outcome", "applied"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "cognito_sub" {
			t.Fatalf("expected cognito_sub to be dropped")
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordWebhookEvent(context.Background(), "stripe", "customer.subscription.updated", "applied")
	m.RecordBriefingCache(context.Background(), "pro", true)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.RecordAccessDecision(context.Background(), "/daily", "ENTITLED")
	m.RecordCheckoutSession(context.Background(), "created")
	m.RecordRateLimitDenied(context.Background(), "/api/entitlements")
}
