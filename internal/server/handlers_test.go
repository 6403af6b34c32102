package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/briefing"
	webhookdomain "github.com/predixa/entitlements/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v82"
)

func TestAccessVerdict(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodGet, "/api/access", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/access", tokenAlice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "direct", body["platform"])
	assert.EqualValues(t, 1767225600, body["period_end"])
	assert.Equal(t, true, body["has_access"])
	plan := body["plan"].(map[string]any)
	assert.Equal(t, "Predixa Pro", plan["name"])
	assert.EqualValues(t, 1999, plan["amount"])

	rec = h.do(http.MethodGet, "/api/access", tokenBob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "canceled", body["status"])
	assert.Equal(t, false, body["has_access"])
	assert.Nil(t, body["period_end"])
	assert.Nil(t, body["plan"])
}

func TestGateOutcomes(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	cases := []struct {
		name      string
		path      string
		token     string
		userAgent string
		state     string
		redirect  string
		bypass    string
		rendering string
	}{
		{name: "public page", path: "/about", state: "ENTITLED", bypass: "public", rendering: "children"},
		{name: "anonymous on protected", path: "/daily", state: "UNAUTHENTICATED", redirect: "/", rendering: "nothing"},
		{name: "subscriber", path: "/daily", token: tokenAlice, state: "ENTITLED", rendering: "children"},
		{name: "lapsed subscriber", path: "/weekly", token: tokenBob, state: "NOT_ENTITLED", redirect: "/account?subscription_required=true", rendering: "nothing"},
		{name: "account needs only a session", path: "/account", token: tokenBob, state: "ENTITLED", rendering: "children"},
		{name: "crawler", path: "/daily", userAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)", state: "ENTITLED", bypass: "crawler", rendering: "children"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var headers []string
			if tc.userAgent != "" {
				headers = []string{"User-Agent", tc.userAgent}
			}
			rec := h.do(http.MethodGet, "/api/access/gate?path="+tc.path, tc.token, "", headers...)
			require.Equal(t, http.StatusOK, rec.Code)

			body := decode(t, rec)
			assert.Equal(t, tc.state, body["state"])
			assert.Equal(t, tc.rendering, body["rendering"])
			if tc.redirect == "" {
				assert.Nil(t, body["redirect"])
			} else {
				assert.Equal(t, tc.redirect, body["redirect"])
			}
			if tc.bypass == "" {
				assert.Nil(t, body["bypass"])
			} else {
				assert.Equal(t, tc.bypass, body["bypass"])
			}
			assert.NotContains(t, rec.Body.String(), "alice")
		})
	}
}

func TestGateRejectsRelativePath(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodGet, "/api/access/gate?path=daily", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))
}

func TestBriefingRequiresAccess(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodGet, "/api/news/briefing", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/api/news/briefing", tokenBob, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorType(t, rec))
}

func TestBriefingCacheHeaders(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodGet, "/api/news/briefing?mode=simple", tokenAlice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	body := decode(t, rec)
	assert.Equal(t, "simple", body["mode"])
	assert.EqualValues(t, 2, body["articlesCount"])
	assert.Equal(t, false, body["cached"])
	assert.NotNil(t, body["briefing"])

	rec = h.do(http.MethodGet, "/api/news/briefing?mode=simple", tokenAlice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, true, decode(t, rec)["cached"])

	rec = h.do(http.MethodGet, "/api/news/briefing?mode=simple&force=true", tokenAlice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	rec = h.do(http.MethodGet, "/api/news/briefing", tokenAlice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pro", decode(t, rec)["mode"])
}

func TestBriefingErrors(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	rec := h.do(http.MethodGet, "/api/news/briefing?mode=degen", tokenAlice, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), briefing.ErrInvalidMode.Error())

	empty := newHarness(t, harnessOptions{articles: []briefing.Article{}})
	rec = empty.do(http.MethodGet, "/api/news/briefing", tokenAlice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	down := newHarness(t, harnessOptions{newsErr: fmt.Errorf("%w: timeout", briefing.ErrNewsUnavailable)})
	rec = down.do(http.MethodGet, "/api/news/briefing", tokenAlice, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCheckoutValidation(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodPost, "/api/stripe/create-checkout-session", "", `{"priceId":"price_monthly"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/stripe/create-checkout-session", tokenBob, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/stripe/create-checkout-session", tokenBob, `{"userEmail":"bob@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Price ID is required", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/stripe/create-checkout-session", tokenBob, `{"priceId":"price_monthly","userEmail":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid email", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/stripe/create-checkout-session", tokenBob, `{"priceId":"price_unknown"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid price", decode(t, rec)["error"])

	assert.Empty(t, h.stripe.checkouts)
}

func TestCheckoutRejectsExistingSubscriber(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodPost, "/api/stripe/create-checkout-session", tokenAlice, `{"priceId":"price_monthly"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["hasActiveSubscription"])
	assert.Empty(t, h.stripe.checkouts)
}

func TestCheckoutCreatesSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.stripe.promos["SPRING"] = "promo_123"

	rec := h.do(http.MethodPost, "/api/stripe/create-checkout-session", tokenBob,
		`{"priceId":"price_monthly","userId":"someone-else","promoCode":"SPRING"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "cs_test_1", body["sessionId"])
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", body["url"])

	require.Len(t, h.stripe.checkouts, 1)
	params := h.stripe.checkouts[0]
	assert.Equal(t, "bob", params.UserID)
	assert.Equal(t, "cus_bob", params.CustomerID)
	assert.Equal(t, priceID, params.PriceID)
	assert.Equal(t, "promo_123", params.PromotionCodeID)
	assert.Equal(t, baseURL+"/account?success=true", params.SuccessURL)
	assert.Equal(t, baseURL+"/account?canceled=true", params.CancelURL)
	assert.Equal(t, "bob@example.com", h.stripe.customers["bob"].Email)
}

func TestCheckoutStripeFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.stripe.createErr = errors.New("card_declined: secret detail")

	rec := h.do(http.MethodPost, "/api/stripe/create-checkout-session", tokenBob, `{"priceId":"price_monthly"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to create checkout session", decode(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "secret detail")
}

func TestPortalSession(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodPost, "/api/stripe/create-portal-session", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/api/stripe/create-portal-session", tokenBob, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.stripe.customers["bob"] = &stripeapi.Customer{ID: "cus_bob"}
	rec = h.do(http.MethodPost, "/api/stripe/create-portal-session", tokenBob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://billing.stripe.test/p/cus_bob", decode(t, rec)["url"])
	assert.Equal(t, []string{"cus_bob|" + baseURL + "/account"}, h.stripe.portals)

	h.stripe.createErr = errors.New("stripe down")
	rec = h.do(http.MethodPost, "/api/stripe/create-portal-session", tokenBob, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripeSubscription(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodGet, "/api/stripe/subscription", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", rec.Body.String())

	h.stripe.customers["carol"] = &stripeapi.Customer{ID: "cus_carol"}
	h.stripe.subs["cus_carol"] = &billing.Subscription{
		ID:               "sub_1",
		Status:           "active",
		PriceID:          priceID,
		UnitAmount:       1999,
		CurrentPeriodEnd: 1767225600,
	}

	rec = h.do(http.MethodGet, "/api/stripe/subscription?userId=carol", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "sub_1", body["id"])
	assert.Equal(t, "active", body["status"])
	assert.EqualValues(t, 1767225600, body["current_period_end"])
	plan := body["plan"].(map[string]any)
	assert.Equal(t, "Pro Plan", plan["name"])
	assert.Equal(t, "month", plan["interval"])
	assert.EqualValues(t, 1999, plan["amount"])

	// The session subject wins over the query parameter.
	rec = h.do(http.MethodGet, "/api/stripe/subscription?userId=carol", tokenBob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", rec.Body.String())

	h.stripe.lookupErr = errors.New("stripe down")
	rec = h.do(http.MethodGet, "/api/stripe/subscription?userId=carol", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", rec.Body.String())
}

func TestRevenueCatWebhookResponses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not configured", err: webhookdomain.ErrNotConfigured, status: http.StatusServiceUnavailable},
		{name: "bad signature", err: webhookdomain.ErrInvalidSignature, status: http.StatusUnauthorized},
		{name: "missing signature", err: webhookdomain.ErrMissingSignature, status: http.StatusUnauthorized},
		{name: "malformed", err: webhookdomain.ErrInvalidPayload, status: http.StatusBadRequest},
		{name: "store failure", err: fmt.Errorf("%w: connection refused", webhookdomain.ErrStoreFailure), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{})
			h.webhooks.err = tc.err

			rec := h.do(http.MethodPost, "/api/revenuecat/webhook", "", `{"event":{}}`)
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
		})
	}

	h := newHarness(t, harnessOptions{})
	plan := "premium_monthly"
	h.webhooks.result = webhookdomain.Result{Success: true, UserID: "alice", Status: "active", Plan: &plan}
	rec := h.do(http.MethodPost, "/api/revenuecat/webhook", "", `{"event":{"type":"INITIAL_PURCHASE"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "alice", body["cognito_sub"])
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, []string{`revenuecat:{"event":{"type":"INITIAL_PURCHASE"}}`}, h.webhooks.received)
}

func TestStripeWebhookResponses(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	rec := h.do(http.MethodPost, "/api/stripe/webhook", "", `{"id":"evt_1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["received"])

	h.webhooks.err = webhookdomain.ErrInvalidSignature
	rec = h.do(http.MethodPost, "/api/stripe/webhook", "", `{"id":"evt_2"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid signature", decode(t, rec)["error"])
}
