package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrKey   = "pk"
	attrValue = "value"
	attrTTL   = "ttl"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDB is a Store backed by a single DynamoDB table with a string
// partition key "pk". The "ttl" attribute holds the expiry as epoch seconds
// so the table's native TTL can be enabled on it. DynamoDB deletes expired
// items lazily, so expiry is checked on read too.
type DynamoDB struct {
	api   dynamodbAPI
	table string
	now   func() time.Time
}

// NewDynamoDB creates a store on the given table.
func NewDynamoDB(api dynamodbAPI, table string) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("kv: dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("kv: dynamodb table name must not be empty")
	}
	return &DynamoDB{api: api, table: table, now: time.Now}, nil
}

// NewDynamoDBFromEnv builds the client from the default AWS credential chain.
func NewDynamoDBFromEnv(ctx context.Context, table, region string) (*DynamoDB, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kv: load aws config: %w", err)
	}
	return NewDynamoDB(dynamodb.NewFromConfig(awsCfg), table)
}

func (d *DynamoDB) keyOf(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

func (d *DynamoDB) Get(ctx context.Context, key string) (string, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.keyOf(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("kv: dynamodb get %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", ErrNotFound
	}
	if d.expired(out.Item) {
		return "", ErrNotFound
	}
	v, ok := out.Item[attrValue].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("kv: dynamodb item %q has no string value", key)
	}
	return v.Value, nil
}

func (d *DynamoDB) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	item := map[string]types.AttributeValue{
		attrKey:   &types.AttributeValueMemberS{Value: key},
		attrValue: &types.AttributeValueMemberS{Value: value},
	}
	if ttl > 0 {
		item[attrTTL] = &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Add(ttl).Unix(), 10)}
	}
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("kv: dynamodb put %q: %w", key, err)
	}
	return nil
}

func (d *DynamoDB) Delete(ctx context.Context, key string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       d.keyOf(key),
	})
	if err != nil {
		return fmt.Errorf("kv: dynamodb delete %q: %w", key, err)
	}
	return nil
}

func (d *DynamoDB) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		start map[string]types.AttributeValue
	)
	for {
		out, err := d.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(d.table),
			FilterExpression:     aws.String("begins_with(#k, :p)"),
			ProjectionExpression: aws.String("#k, #t"),
			ExpressionAttributeNames: map[string]string{
				"#k": attrKey,
				"#t": attrTTL,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("kv: dynamodb scan %q: %w", prefix, err)
		}
		for _, item := range out.Items {
			if d.expired(item) {
				continue
			}
			if k, ok := item[attrKey].(*types.AttributeValueMemberS); ok {
				keys = append(keys, k.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	return keys, nil
}

func (d *DynamoDB) expired(item map[string]types.AttributeValue) bool {
	n, ok := item[attrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	exp, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return d.now().Unix() >= exp
}

func (d *DynamoDB) Close() error {
	return nil
}
