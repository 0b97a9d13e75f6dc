package dynamostore_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"go.strie.dev/strie/patricia"
	"go.strie.dev/strie/patricia/dynamostore"
	"go.strie.dev/strie/patricia/storagetest"
)

// This suite needs a reachable DynamoDB endpoint (e.g. DynamoDB
// Local); it is skipped by default rather than reaching out to AWS
// during normal test runs. Set DYNAMOSTORE_TEST_ENDPOINT to an
// http(s) endpoint to run it.
func TestDynamoStorageConformance(t *testing.T) {
	endpoint := os.Getenv("DYNAMOSTORE_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("DYNAMOSTORE_TEST_ENDPOINT not set; skipping DynamoDB-backed conformance suite")
	}

	ctx := context.Background()
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = &endpoint
	})

	var tableCounter atomic.Int64
	storagetest.Run(t, func(t *testing.T) patricia.Storage {
		table := fmt.Sprintf("strie-conformance-%d", tableCounter.Add(1))
		if _, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: &table,
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: stringPtr("hash"), AttributeType: types.ScalarAttributeTypeB},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: stringPtr("hash"), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		}); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			_, _ = client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: &table})
		})
		return dynamostore.New(client, table)
	})
}

func stringPtr(s string) *string { return &s }
