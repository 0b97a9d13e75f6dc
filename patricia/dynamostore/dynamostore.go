// Package dynamostore is a DynamoDB-backed patricia.Storage. It
// favors DynamoDB's native atomic counter support over
// read-modify-write: Put uses an UpdateItem ADD to insert-or-increment
// a node's refcount in one round trip, and Release mirrors it with a
// negative ADD, deleting the item with a conditional expression when
// the counter reaches zero.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"go.strie.dev/strie/felt"
	"go.strie.dev/strie/internal/metrics"
	"go.strie.dev/strie/patricia"
)

const (
	attrHash     = "hash"
	attrData     = "data"
	attrRefcount = "refcount"
)

// Storage is a patricia.Storage backed by a single DynamoDB table with
// a binary hash partition key.
type Storage struct {
	client  *dynamodb.Client
	table   string
	metrics *metrics.Storage
}

// Option configures a Storage at construction time.
type Option func(*Storage)

// WithMetrics records every Get/Put/Release/PutBatch call against m.
func WithMetrics(m *metrics.Storage) Option {
	return func(s *Storage) { s.metrics = m }
}

// New wraps an existing table (already provisioned with "hash" as its
// binary partition key) with the Storage interface.
func New(client *dynamodb.Client, table string, opts ...Option) *Storage {
	s := &Storage{client: client, table: table}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Observe(op, start, err)
	}
}

var _ patricia.BatchStorage = (*Storage)(nil)

// transactWriteItemsLimit is DynamoDB's hard cap on items per
// TransactWriteItems call.
const transactWriteItemsLimit = 100

// PutBatch writes an entire commit's new nodes as one or more
// TransactWriteItems calls (chunked at DynamoDB's 100-item limit).
// Each chunk is atomic on its own; a batch of more than 100 nodes is
// not, and a failure after the first chunk leaves the earlier chunks
// written.
func (s *Storage) PutBatch(ctx context.Context, blobs []patricia.NodeBlob) (err error) {
	defer func(start time.Time) { s.observe("put_batch", start, err) }(time.Now())

	for len(blobs) > 0 {
		n := len(blobs)
		if n > transactWriteItemsLimit {
			n = transactWriteItemsLimit
		}
		if err := s.putChunk(ctx, blobs[:n]); err != nil {
			return err
		}
		blobs = blobs[n:]
	}
	return nil
}

func (s *Storage) putChunk(ctx context.Context, blobs []patricia.NodeBlob) error {
	items := make([]types.TransactWriteItem, len(blobs))
	for i, b := range blobs {
		h := b.Hash.Bytes()
		perItem, err := expression.NewBuilder().
			WithUpdate(expression.Add(expression.Name(attrRefcount), expression.Value(1)).
				Set(expression.Name(attrData), expression.IfNotExists(expression.Name(attrData), expression.Value(b.Data)))).
			Build()
		if err != nil {
			return fmt.Errorf("dynamostore: put batch: build expression: %w", err)
		}
		items[i] = types.TransactWriteItem{
			Update: &types.Update{
				TableName: aws.String(s.table),
				Key: map[string]types.AttributeValue{
					attrHash: &types.AttributeValueMemberB{Value: h[:]},
				},
				UpdateExpression:          perItem.Update(),
				ExpressionAttributeNames:  perItem.Names(),
				ExpressionAttributeValues: perItem.Values(),
			},
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return fmt.Errorf("dynamostore: put batch: %w", err)
	}
	return nil
}

func (s *Storage) Get(ctx context.Context, hash felt.Felt) (_ []byte, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	h := hash.Bytes()
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrHash: &types.AttributeValueMemberB{Value: h[:]},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamostore: get: %w", err)
	}
	if out.Item == nil {
		return nil, patricia.ErrNodeNotFound
	}
	dataAttr, ok := out.Item[attrData].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("dynamostore: get: item %x missing binary %q attribute", h, attrData)
	}
	return dataAttr.Value, nil
}

// Put performs an atomic insert-or-increment: the ADD update
// expression creates the refcount attribute at 1 if the item is
// absent, or increments it if present, all server-side in one request.
func (s *Storage) Put(ctx context.Context, hash felt.Felt, data []byte) (err error) {
	defer func(start time.Time) { s.observe("put", start, err) }(time.Now())

	h := hash.Bytes()
	update, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name(attrRefcount), expression.Value(1)).
			Set(expression.Name(attrData), expression.IfNotExists(expression.Name(attrData), expression.Value(data)))).
		Build()
	if err != nil {
		return fmt.Errorf("dynamostore: put: build expression: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrHash: &types.AttributeValueMemberB{Value: h[:]},
		},
		UpdateExpression:          update.Update(),
		ExpressionAttributeNames:  update.Names(),
		ExpressionAttributeValues: update.Values(),
	})
	if err != nil {
		return fmt.Errorf("dynamostore: put: %w", err)
	}
	return nil
}

// Release decrements the refcount with a negative ADD, then deletes
// the item with a condition (refcount <= 0) that only succeeds if no
// concurrent Put raced it back above zero first; a failed condition
// check means another writer won the race and the item survives,
// which Release reports as not removed.
func (s *Storage) Release(ctx context.Context, hash felt.Felt) (removed bool, err error) {
	defer func(start time.Time) { s.observe("release", start, err) }(time.Now())

	h := hash.Bytes()

	decExpr, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name(attrRefcount), expression.Value(-1))).
		WithCondition(expression.AttributeExists(expression.Name(attrHash))).
		Build()
	if err != nil {
		return false, fmt.Errorf("dynamostore: release: build decrement expression: %w", err)
	}
	updated, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrHash: &types.AttributeValueMemberB{Value: h[:]},
		},
		UpdateExpression:          decExpr.Update(),
		ConditionExpression:       decExpr.Condition(),
		ExpressionAttributeNames:  decExpr.Names(),
		ExpressionAttributeValues: decExpr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return false, nil // no such item: release of an absent node is a no-op
	}
	if err != nil {
		return false, fmt.Errorf("dynamostore: release: decrement: %w", err)
	}

	refAttr, ok := updated.Attributes[attrRefcount].(*types.AttributeValueMemberN)
	if !ok {
		return false, fmt.Errorf("dynamostore: release: item %x missing numeric %q attribute", h, attrRefcount)
	}
	if refAttr.Value != "0" && refAttr.Value[0] != '-' {
		return false, nil
	}

	delExpr, err := expression.NewBuilder().
		WithCondition(expression.LessThanEqual(expression.Name(attrRefcount), expression.Value(0))).
		Build()
	if err != nil {
		return false, fmt.Errorf("dynamostore: release: build delete expression: %w", err)
	}
	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			attrHash: &types.AttributeValueMemberB{Value: h[:]},
		},
		ConditionExpression:       delExpr.Condition(),
		ExpressionAttributeNames:  delExpr.Names(),
		ExpressionAttributeValues: delExpr.Values(),
	})
	if errors.As(err, &condFailed) {
		return false, nil // a concurrent Put raced the refcount back up first
	}
	if err != nil {
		return false, fmt.Errorf("dynamostore: release: delete: %w", err)
	}
	return true, nil
}
