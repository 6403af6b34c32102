// Package stripe wraps the Stripe API calls used for direct billing.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/predixa/entitlements/internal/config"
	stripeapi "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/promotioncode"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"
)

// Customer metadata keys carrying the Cognito sub. The second one is what
// older customers were created with.
const (
	MetadataCognitoSub    = "cognito_sub"
	MetadataCognitoUserID = "cognito_user_id"
)

var (
	ErrNotConfigured    = errors.New("stripe_not_configured")
	ErrCustomerNotFound = errors.New("stripe_customer_not_found")
)

// Subscription is the subset of a Stripe subscription the service reads.
// Instants are epoch seconds.
type Subscription struct {
	ID               string
	Status           string
	CustomerID       string
	PriceID          string
	ProductName      string
	UnitAmount       int64
	Interval         string
	CurrentPeriodEnd int64
	TrialEnd         int64
	Metadata         map[string]string
}

type CheckoutParams struct {
	CustomerID      string
	PriceID         string
	UserID          string
	PromotionCodeID string
	SuccessURL      string
	CancelURL       string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Client is the direct-billing surface. Implementations must honour ctx.
type Client interface {
	FindCustomerByUser(ctx context.Context, userID string) (*stripeapi.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*stripeapi.Customer, error)
	GetOrCreateCustomer(ctx context.Context, userID, email string) (*stripeapi.Customer, error)
	LatestSubscription(ctx context.Context, customerID string) (*Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	ResolvePromotionCode(ctx context.Context, code string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

type apiClient struct {
	log *zap.Logger
}

// NewClient configures the Stripe SDK key. Without a secret key every call
// returns ErrNotConfigured.
func NewClient(cfg config.Config, log *zap.Logger) Client {
	if cfg.Stripe.SecretKey != "" {
		stripeapi.Key = cfg.Stripe.SecretKey
	}
	return &apiClient{log: log.Named("billing.stripe")}
}

func (c *apiClient) ready() error {
	if strings.TrimSpace(stripeapi.Key) == "" {
		return ErrNotConfigured
	}
	return nil
}

func (c *apiClient) FindCustomerByUser(ctx context.Context, userID string) (*stripeapi.Customer, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	for _, key := range []string{MetadataCognitoSub, MetadataCognitoUserID} {
		params := &stripeapi.CustomerSearchParams{
			SearchParams: stripeapi.SearchParams{
				Query:   fmt.Sprintf("metadata['%s']:'%s'", key, escapeSearch(userID)),
				Context: ctx,
			},
		}
		params.Limit = stripeapi.Int64(1)
		iter := customer.Search(params)
		for iter.Next() {
			if cust := iter.Customer(); cust != nil && !cust.Deleted {
				return cust, nil
			}
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("search customers: %w", err)
		}
	}
	return nil, ErrCustomerNotFound
}

func (c *apiClient) GetCustomer(ctx context.Context, customerID string) (*stripeapi.Customer, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return cust, nil
}

func (c *apiClient) GetOrCreateCustomer(ctx context.Context, userID, email string) (*stripeapi.Customer, error) {
	cust, err := c.FindCustomerByUser(ctx, userID)
	if err == nil {
		return cust, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return nil, err
	}

	params := &stripeapi.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripeapi.String(email)
	}
	params.AddMetadata(MetadataCognitoSub, userID)
	params.SetIdempotencyKey("customer-" + userID)
	cust, err = customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	c.log.Info("created stripe customer", zap.String("customer_id", cust.ID))
	return cust, nil
}

func (c *apiClient) LatestSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripeapi.SubscriptionListParams{
		Customer: stripeapi.String(customerID),
		Status:   stripeapi.String("all"),
	}
	params.Context = ctx
	params.Limit = stripeapi.Int64(1)
	params.AddExpand("data.items.data.price.product")

	iter := subscription.List(params)
	for iter.Next() {
		return FromStripeSubscription(iter.Subscription()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return nil, nil
}

func (c *apiClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripeapi.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return FromStripeSubscription(sub), nil
}

// ResolvePromotionCode returns the id of an active promotion code, or "" when
// the code does not resolve.
func (c *apiClient) ResolvePromotionCode(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	if err := c.ready(); err != nil {
		return "", err
	}
	params := &stripeapi.PromotionCodeListParams{
		Code:   stripeapi.String(code),
		Active: stripeapi.Bool(true),
	}
	params.Context = ctx
	params.Limit = stripeapi.Int64(1)
	iter := promotioncode.List(params)
	for iter.Next() {
		return iter.PromotionCode().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list promotion codes: %w", err)
	}
	return "", nil
}

func (c *apiClient) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (*CheckoutSession, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	params := &stripeapi.CheckoutSessionParams{
		Mode:              stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		Customer:          stripeapi.String(in.CustomerID),
		ClientReferenceID: stripeapi.String(in.UserID),
		SuccessURL:        stripeapi.String(in.SuccessURL),
		CancelURL:         stripeapi.String(in.CancelURL),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(in.PriceID),
				Quantity: stripeapi.Int64(1),
			},
		},
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataCognitoSub: in.UserID},
		},
	}
	if in.PromotionCodeID != "" {
		params.Discounts = []*stripeapi.CheckoutSessionDiscountParams{
			{PromotionCode: stripeapi.String(in.PromotionCodeID)},
		}
	} else {
		params.AllowPromotionCodes = stripeapi.Bool(true)
	}
	params.Context = ctx
	params.AddMetadata(MetadataCognitoSub, in.UserID)
	params.SetIdempotencyKey(ulid.Make().String())

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (c *apiClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	params := &stripeapi.BillingPortalSessionParams{
		Customer:  stripeapi.String(customerID),
		ReturnURL: stripeapi.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// CognitoSubFromMetadata reads the user id stamped on a Stripe customer.
func CognitoSubFromMetadata(metadata map[string]string) string {
	for _, key := range []string{MetadataCognitoSub, MetadataCognitoUserID} {
		if value := strings.TrimSpace(metadata[key]); value != "" {
			return value
		}
	}
	return ""
}

// FromStripeSubscription flattens the first subscription item into Subscription.
func FromStripeSubscription(sub *stripeapi.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		TrialEnd: sub.TrialEnd,
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return out
	}
	item := sub.Items.Data[0]
	out.CurrentPeriodEnd = item.CurrentPeriodEnd
	if price := item.Price; price != nil {
		out.PriceID = price.ID
		out.UnitAmount = price.UnitAmount
		if price.Recurring != nil {
			out.Interval = string(price.Recurring.Interval)
		}
		if price.Product != nil {
			out.ProductName = price.Product.Name
		}
	}
	return out
}

func escapeSearch(value string) string {
	return strings.ReplaceAll(value, "'", "\\'")
}
