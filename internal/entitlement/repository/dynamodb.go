package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const (
	dynamoKey        = "cognito_sub"
	maxWriteAttempts = 3
)

// dynamoItem mirrors the predixa_entitlements table layout. Version guards
// every write with a conditional put.
type dynamoItem struct {
	CognitoSub         string  `dynamodbav:"cognito_sub"`
	Status             string  `dynamodbav:"status"`
	Plan               *string `dynamodbav:"plan,omitempty"`
	CurrentPeriodEnd   *int64  `dynamodbav:"current_period_end,omitempty"`
	TrialStartedAt     string  `dynamodbav:"trial_started_at,omitempty"`
	TrialExpiresAt     *int64  `dynamodbav:"trial_expires_at,omitempty"`
	TrialActive        bool    `dynamodbav:"trial_active"`
	TrialDaysRemaining int     `dynamodbav:"trial_days_remaining"`
	AccessGranted      bool    `dynamodbav:"access_granted"`
	AccessReason       string  `dynamodbav:"access_reason,omitempty"`
	Provider           string  `dynamodbav:"provider,omitempty"`
	ProductID          string  `dynamodbav:"product_id,omitempty"`
	Environment        string  `dynamodbav:"environment,omitempty"`
	LastEventAt        int64   `dynamodbav:"last_event_at"`
	LastEventID        string  `dynamodbav:"last_event_id,omitempty"`
	CreatedAt          string  `dynamodbav:"createdAt"`
	UpdatedAt          string  `dynamodbav:"updatedAt"`
	Version            int64   `dynamodbav:"version"`
}

type dynamoRepo struct {
	client DynamoAPI
	table  string
}

// NewDynamoClient builds a DynamoDB client from configuration. A custom
// endpoint targets DynamoDB Local.
func NewDynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewDynamoRepository stores entitlements in a DynamoDB table keyed by cognito_sub.
func NewDynamoRepository(client DynamoAPI, table string) domain.Repository {
	return &dynamoRepo{client: client, table: table}
}

func (r *dynamoRepo) Get(ctx context.Context, userID string) (*domain.Entitlement, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	item, err := r.getItem(ctx, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	record := item.toDomain()
	return &record, nil
}

func (r *dynamoRepo) Apply(ctx context.Context, change domain.Change) (domain.ApplyResult, error) {
	if strings.TrimSpace(change.UserID) == "" {
		return domain.ApplyResult{}, domain.ErrInvalidUserID
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		item, err := r.getItem(ctx, change.UserID)
		if err != nil {
			return domain.ApplyResult{}, err
		}

		var existing *domain.Entitlement
		if item != nil {
			record := item.toDomain()
			existing = &record
		}
		if change.IsStaleFor(existing) {
			return domain.ApplyResult{Outcome: domain.ApplyStale, Record: *existing}, nil
		}

		merged := change.Merge(existing)
		err = r.putVersioned(ctx, merged, item)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return domain.ApplyResult{}, storeError("apply entitlement change", err)
		}
		outcome := domain.ApplyUpdated
		if item == nil {
			outcome = domain.ApplyCreated
		}
		return domain.ApplyResult{Outcome: outcome, Record: merged}, nil
	}
	return domain.ApplyResult{}, storeError("apply entitlement change", errVersionConflict)
}

func (r *dynamoRepo) Repair(ctx context.Context, userID string, repair domain.Repair) error {
	if repair.Empty() {
		return nil
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		item, err := r.getItem(ctx, userID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		record := item.toDomain()
		repair.Apply(&record)
		err = r.putVersioned(ctx, record, item)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		if err != nil {
			return storeError("repair entitlement", err)
		}
		return nil
	}
	return storeError("repair entitlement", errVersionConflict)
}

func (r *dynamoRepo) Create(ctx context.Context, record *domain.Entitlement) error {
	if record == nil || strings.TrimSpace(record.UserID) == "" {
		return domain.ErrInvalidUserID
	}
	err := r.putVersioned(ctx, *record, nil)
	if errors.Is(err, errVersionConflict) {
		return domain.ErrAlreadyExists
	}
	if err != nil {
		return storeError("create entitlement", err)
	}
	return nil
}

func (r *dynamoRepo) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Entitlement, error) {
	var out []domain.Entitlement
	err := r.scan(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(r.table),
		FilterExpression:         aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	}, func(item dynamoItem) {
		out = append(out, item.toDomain())
	})
	if err != nil {
		return nil, storeError("list entitlements", err)
	}
	return out, nil
}

func (r *dynamoRepo) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	out := map[domain.Status]int64{}
	err := r.scan(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(r.table),
		ProjectionExpression:     aws.String("#status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
	}, func(item dynamoItem) {
		out[domain.Status(item.Status)]++
	})
	if err != nil {
		return nil, storeError("count entitlements", err)
	}
	return out, nil
}

var errVersionConflict = errors.New("entitlement_version_conflict")

func (r *dynamoRepo) getItem(ctx context.Context, userID string) (*dynamoItem, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            map[string]types.AttributeValue{dynamoKey: &types.AttributeValueMemberS{Value: userID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storeError("get entitlement", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode entitlement: %w", err)
	}
	return &item, nil
}

// putVersioned writes record only if the stored version still matches prev
// (or, when prev is nil, if no item exists yet).
func (r *dynamoRepo) putVersioned(ctx context.Context, record domain.Entitlement, prev *dynamoItem) error {
	next := fromDomain(record)
	input := &dynamodb.PutItemInput{TableName: aws.String(r.table)}
	if prev == nil {
		next.Version = 1
		input.ConditionExpression = aws.String("attribute_not_exists(" + dynamoKey + ")")
	} else {
		next.Version = prev.Version + 1
		input.ConditionExpression = aws.String("version = :version")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", prev.Version)},
		}
	}

	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("encode entitlement: %w", err)
	}
	input.Item = item

	_, err = r.client.PutItem(ctx, input)
	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return errVersionConflict
	}
	return err
}

func (r *dynamoRepo) scan(ctx context.Context, input *dynamodb.ScanInput, fn func(dynamoItem)) error {
	paginator := dynamodb.NewScanPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		var items []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return err
		}
		for _, item := range items {
			fn(item)
		}
	}
	return nil
}

func fromDomain(e domain.Entitlement) dynamoItem {
	item := dynamoItem{
		CognitoSub:         e.UserID,
		Status:             string(e.Status),
		Plan:               e.Plan,
		CurrentPeriodEnd:   e.CurrentPeriodEnd,
		TrialExpiresAt:     e.TrialExpiresAt,
		TrialActive:        e.TrialActive,
		TrialDaysRemaining: e.TrialDaysRemaining,
		AccessGranted:      e.AccessGranted,
		AccessReason:       e.AccessReason,
		Provider:           e.Provider,
		ProductID:          e.ProductID,
		Environment:        e.Environment,
		LastEventAt:        e.LastEventAt,
		LastEventID:        e.LastEventID,
		CreatedAt:          formatTime(e.CreatedAt),
		UpdatedAt:          formatTime(e.UpdatedAt),
	}
	if e.TrialStartedAt != nil {
		item.TrialStartedAt = formatTime(*e.TrialStartedAt)
	}
	return item
}

func (i dynamoItem) toDomain() domain.Entitlement {
	e := domain.Entitlement{
		UserID:             i.CognitoSub,
		Status:             domain.Status(i.Status),
		Plan:               i.Plan,
		CurrentPeriodEnd:   i.CurrentPeriodEnd,
		TrialExpiresAt:     i.TrialExpiresAt,
		TrialActive:        i.TrialActive,
		TrialDaysRemaining: i.TrialDaysRemaining,
		AccessGranted:      i.AccessGranted,
		AccessReason:       i.AccessReason,
		Provider:           i.Provider,
		ProductID:          i.ProductID,
		Environment:        i.Environment,
		LastEventAt:        i.LastEventAt,
		LastEventID:        i.LastEventID,
		CreatedAt:          parseTime(i.CreatedAt),
		UpdatedAt:          parseTime(i.UpdatedAt),
	}
	if e.Status == "" {
		e.Status = domain.StatusNone
	}
	if i.TrialStartedAt != "" {
		started := parseTime(i.TrialStartedAt)
		e.TrialStartedAt = &started
	}
	return e
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
