package connectiondao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// Item is a connection record stored in DynamoDB.
type Item struct {
	ConnectionID string `dynamodbav:"pk" ddb:"hash"`
	UserID       string `dynamodbav:"user_id"`
	Active       bool   `dynamodbav:"is_active"`
	ConnectedAt  int64  `dynamodbav:"connected_at"`
	TTL          int64  `dynamodbav:"ttl"`
}

// DAO provides access to the DynamoDB connections table.
type DAO struct {
	table *ddb.Table

	ConnTTL     time.Duration // TTL for active records (default 2 hours)
	InactiveTTL time.Duration // TTL once deactivated (default 1 hour)
	Timeout     time.Duration // bound on each call (default 5 seconds)
}

// New creates a new connections DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:       ddb.New(api).MustTable(tableName, Item{}),
		ConnTTL:     2 * time.Hour,
		InactiveTTL: time.Hour,
		Timeout:     5 * time.Second,
	}
}

// Table exposes the underlying table, e.g. for CreateTableIfNotExists.
func (d *DAO) Table() *ddb.Table {
	return d.table
}

// Put stores a connection record.
func (d *DAO) Put(ctx context.Context, item Item) error {
	return d.table.Put(item).RunWithContext(ctx)
}

// Get retrieves a connection record by ID.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Item, error) {
	var item Item
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &item); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, fmt.Errorf("connection %v not found", connectionID)
		}
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &item, nil
}

func (d *DAO) Activate(ctx context.Context, conn Connection) Result {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	item := Item{
		ConnectionID: conn.ConnectionID,
		UserID:       conn.UserID,
		Active:       true,
		ConnectedAt:  conn.ConnectedAt.Unix(),
		TTL:          time.Now().Add(d.ConnTTL).Unix(),
	}
	if err := d.Put(ctx, item); err != nil {
		return skipped(classify(err))
	}
	return stored()
}

func (d *DAO) Deactivate(ctx context.Context, connectionID string) Result {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	var item Item
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &item); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return stored() // nothing was recorded, nothing to deactivate
		}
		return skipped(classify(err))
	}

	item.Active = false
	item.TTL = time.Now().Add(d.InactiveTTL).Unix()
	if err := d.Put(ctx, item); err != nil {
		return skipped(classify(err))
	}
	return stored()
}

// classify folds a missing table into ErrUnavailable and keeps other
// failures as the reason.
func classify(err error) error {
	if isTableMissing(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isTableMissing(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeResourceNotFoundException {
		return true
	}
	return strings.Contains(err.Error(), dynamodb.ErrCodeResourceNotFoundException)
}
