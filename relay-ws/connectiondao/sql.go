package connectiondao

import (
	"context"
	"fmt"
	"sync"
	"time"

	relaysql "github.com/socialjobs/job-relay/relay-sql"
	"gorm.io/gorm"
)

// recheckInterval throttles table-existence probes while the table is missing.
const recheckInterval = 30 * time.Second

// Row is the relay-owned connection row in the backend database.
type Row struct {
	ID           uint      `gorm:"column:id;primaryKey"`
	UserID       string    `gorm:"column:user_id;index"`
	ConnectionID string    `gorm:"column:connection_id;uniqueIndex"`
	IsActive     bool      `gorm:"column:is_active"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// SQL stores connection rows through gorm.
type SQL struct {
	db      *gorm.DB
	table   string
	timeout time.Duration

	mu        sync.Mutex
	available bool
	checkedAt time.Time
}

func NewSQL(db *gorm.DB, table string, timeout time.Duration) *SQL {
	return &SQL{
		db:      db,
		table:   table,
		timeout: timeout,
	}
}

// CreateTable creates the connection table if it does not exist.
func (s *SQL) CreateTable(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&Row{}); err != nil {
		return fmt.Errorf("failed to create table %v: %w", s.table, err)
	}
	return nil
}

func (s *SQL) ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available {
		return nil
	}
	if !s.checkedAt.IsZero() && time.Since(s.checkedAt) < recheckInterval {
		return fmt.Errorf("%w: table %v not found", ErrUnavailable, s.table)
	}
	s.checkedAt = time.Now()
	if !s.db.WithContext(ctx).Migrator().HasTable(s.table) {
		return fmt.Errorf("%w: table %v not found", ErrUnavailable, s.table)
	}
	s.available = true
	return nil
}

func (s *SQL) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return relaysql.WithTimeout(ctx, s.timeout)
}

func (s *SQL) Activate(ctx context.Context, conn Connection) Result {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		return skipped(err)
	}

	row := Row{
		UserID:       conn.UserID,
		ConnectionID: conn.ConnectionID,
		IsActive:     true,
		CreatedAt:    conn.ConnectedAt,
	}
	if err := s.db.WithContext(ctx).Table(s.table).Create(&row).Error; err != nil {
		return skipped(fmt.Errorf("%w: insert connection %v: %v", ErrUnavailable, conn.ConnectionID, err))
	}
	return stored()
}

func (s *SQL) Deactivate(ctx context.Context, connectionID string) Result {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		return skipped(err)
	}

	err := s.db.WithContext(ctx).Table(s.table).
		Where("connection_id = ?", connectionID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return skipped(fmt.Errorf("%w: deactivate connection %v: %v", ErrUnavailable, connectionID, err))
	}
	return stored()
}

// Get returns the row for connectionID.
func (s *SQL) Get(ctx context.Context, connectionID string) (*Row, error) {
	var row Row
	err := s.db.WithContext(ctx).Table(s.table).
		Where("connection_id = ?", connectionID).
		Take(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get connection %v: %w", connectionID, err)
	}
	return &row, nil
}
