package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/google/uuid"

	"github.com/cyderes/social-feed/internal/config"
	"github.com/cyderes/social-feed/internal/logging"
	"github.com/cyderes/social-feed/internal/models"
)

const (
	// pointerGeneration is the partition holding the current-generation pointer
	pointerGeneration = "#pointer"
	batchWriteLimit   = 25
	maxBatchAttempts  = 5
)

// dynamoPost is one cached post inside a generation partition
type dynamoPost struct {
	Generation string `dynamodbav:"gen"`
	ID         int    `dynamodbav:"id"`
	UserID     int    `dynamodbav:"user_id"`
	Title      string `dynamodbav:"title"`
	Body       string `dynamodbav:"body"`
	AvatarURL  string `dynamodbav:"avatar_url"`
}

// generationPointer names the generation readers should see
type generationPointer struct {
	Generation string `dynamodbav:"gen"`
	ID         int    `dynamodbav:"id"`
	Current    string `dynamodbav:"current"`
	Count      int    `dynamodbav:"count"`
	UpdatedAt  string `dynamodbav:"updated_at"`
}

// DynamoDBStorage implements Storage using AWS DynamoDB.
//
// DynamoDB transactions are too small to delete and insert a whole feed, so
// each ReplaceAll writes the posts under a fresh generation key, then moves
// the pointer item to that generation with a conditional put, then deletes
// the previous generation. Readers only follow the pointer, so they see
// either the old feed or the new one.
type DynamoDBStorage struct {
	mu        sync.RWMutex
	client    dynamodbiface.DynamoDBAPI
	tableName string
	logger    *slog.Logger
}

var _ Storage = (*DynamoDBStorage)(nil)

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return newDynamoDBStorage(ctx, dynamodb.New(sess), cfg.TableName, logger)
}

func newDynamoDBStorage(ctx context.Context, client dynamodbiface.DynamoDBAPI, tableName string, logger *slog.Logger) (*DynamoDBStorage, error) {
	storage := &DynamoDBStorage{
		client:    client,
		tableName: tableName,
		logger:    logging.OrDefault(logger).With("component", "dynamodb"),
	}

	if err := storage.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}
	return storage, nil
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoDBStorage) ensureTable(ctx context.Context) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil
	}
	var aerr awserr.Error
	if !errors.As(err, &aerr) || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to describe table: %w", err)
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String("gen"), KeyType: aws.String(dynamodb.KeyTypeHash)},
			{AttributeName: aws.String("id"), KeyType: aws.String(dynamodb.KeyTypeRange)},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String("gen"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
			{AttributeName: aws.String("id"), AttributeType: aws.String(dynamodb.ScalarAttributeTypeN)},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	}

	if _, err := d.client.CreateTableWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Wait for table to be created
	return d.client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

// ReplaceAll publishes posts as a new generation
func (d *DynamoDBStorage) ReplaceAll(ctx context.Context, posts []models.CachedPost) error {
	rows := models.NormalizeCached(posts)

	d.mu.Lock()
	defer d.mu.Unlock()

	pointer, err := d.currentPointer(ctx)
	if err != nil {
		return writeError(err)
	}

	generation := uuid.NewString()
	requests := make([]*dynamodb.WriteRequest, 0, len(rows))
	for _, row := range rows {
		item, err := dynamodbattribute.MarshalMap(dynamoPost{
			Generation: generation,
			ID:         row.ID,
			UserID:     row.UserID,
			Title:      row.Title,
			Body:       row.Body,
			AvatarURL:  row.AvatarURL,
		})
		if err != nil {
			return writeError(fmt.Errorf("failed to marshal post %d: %w", row.ID, err))
		}
		requests = append(requests, &dynamodb.WriteRequest{PutRequest: &dynamodb.PutRequest{Item: item}})
	}

	if err := d.batchWrite(ctx, requests); err != nil {
		d.cleanup(ctx, generation)
		return writeError(fmt.Errorf("failed to store posts: %w", err))
	}

	if err := d.swapPointer(ctx, pointer, generation, len(rows)); err != nil {
		d.cleanup(ctx, generation)
		return writeError(err)
	}

	// Orphaned generations are unreachable, so a failed cleanup is not an error
	if pointer != nil {
		d.cleanup(ctx, pointer.Current)
	}
	return nil
}

// FetchAll returns the posts of the current generation ordered by ID
func (d *DynamoDBStorage) FetchAll(ctx context.Context) ([]models.CachedPost, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pointer, err := d.currentPointer(ctx)
	if err != nil {
		return nil, readError(err)
	}
	if pointer == nil {
		return []models.CachedPost{}, nil
	}

	posts := make([]models.CachedPost, 0, pointer.Count)
	err = d.queryGeneration(ctx, pointer.Current, func(items []map[string]*dynamodb.AttributeValue) error {
		var page []dynamoPost
		if err := dynamodbattribute.UnmarshalListOfMaps(items, &page); err != nil {
			return fmt.Errorf("failed to unmarshal posts: %w", err)
		}
		for _, p := range page {
			posts = append(posts, models.CachedPost{
				ID:        p.ID,
				UserID:    p.UserID,
				Title:     p.Title,
				Body:      p.Body,
				AvatarURL: p.AvatarURL,
			})
		}
		return nil
	})
	if err != nil {
		return nil, readError(err)
	}
	return posts, nil
}

// Ping describes the table
func (d *DynamoDBStorage) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	return err
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}

func pointerKey() map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"gen": {S: aws.String(pointerGeneration)},
		"id":  {N: aws.String("0")},
	}
}

func (d *DynamoDBStorage) currentPointer(ctx context.Context) (*generationPointer, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            pointerKey(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get generation pointer: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var pointer generationPointer
	if err := dynamodbattribute.UnmarshalMap(result.Item, &pointer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal generation pointer: %w", err)
	}
	return &pointer, nil
}

func (d *DynamoDBStorage) swapPointer(ctx context.Context, previous *generationPointer, generation string, count int) error {
	item, err := dynamodbattribute.MarshalMap(generationPointer{
		Generation: pointerGeneration,
		ID:         0,
		Current:    generation,
		Count:      count,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal generation pointer: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:                aws.String(d.tableName),
		Item:                     item,
		ExpressionAttributeNames: map[string]*string{"#cur": aws.String("current")},
	}
	if previous == nil {
		input.ConditionExpression = aws.String("attribute_not_exists(#cur)")
	} else {
		input.ConditionExpression = aws.String("#cur = :old")
		input.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":old": {S: aws.String(previous.Current)},
		}
	}

	if _, err := d.client.PutItemWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to swap generation pointer: %w", err)
	}
	return nil
}

func (d *DynamoDBStorage) queryGeneration(ctx context.Context, generation string, page func([]map[string]*dynamodb.AttributeValue) error) error {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(d.tableName),
		KeyConditionExpression:   aws.String("#gen = :gen"),
		ExpressionAttributeNames: map[string]*string{"#gen": aws.String("gen")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":gen": {S: aws.String(generation)},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	}

	for {
		result, err := d.client.QueryWithContext(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to query generation %s: %w", generation, err)
		}
		if err := page(result.Items); err != nil {
			return err
		}
		if len(result.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// cleanup deletes an unreachable generation, logging failures
func (d *DynamoDBStorage) cleanup(ctx context.Context, generation string) {
	if err := d.deleteGeneration(ctx, generation); err != nil {
		d.logger.Warn("failed to delete cache generation", "generation", generation, "error", err)
	}
}

func (d *DynamoDBStorage) deleteGeneration(ctx context.Context, generation string) error {
	var requests []*dynamodb.WriteRequest
	err := d.queryGeneration(ctx, generation, func(items []map[string]*dynamodb.AttributeValue) error {
		for _, item := range items {
			requests = append(requests, &dynamodb.WriteRequest{
				DeleteRequest: &dynamodb.DeleteRequest{
					Key: map[string]*dynamodb.AttributeValue{"gen": item["gen"], "id": item["id"]},
				},
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return d.batchWrite(ctx, requests)
}

// batchWrite sends requests in chunks of 25, resubmitting unprocessed items
func (d *DynamoDBStorage) batchWrite(ctx context.Context, requests []*dynamodb.WriteRequest) error {
	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}

		pending := map[string][]*dynamodb.WriteRequest{d.tableName: requests[start:end]}
		for attempt := 1; len(pending[d.tableName]) > 0; attempt++ {
			if attempt > maxBatchAttempts {
				return fmt.Errorf("%d items unprocessed after %d attempts", len(pending[d.tableName]), maxBatchAttempts)
			}

			result, err := d.client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: pending,
			})
			if err != nil {
				return fmt.Errorf("batch write failed: %w", err)
			}

			pending = result.UnprocessedItems
			if len(pending[d.tableName]) > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
				}
			}
		}
	}
	return nil
}
