package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"roomservice-agent/internal/domain"
)

// PostgresStore implements the menu, conversation and order store contracts
// over a Postgres database (schema in scripts/schema.sql). The stock
// decrement is a single conditional UPDATE, and message ordering rides on a
// BIGSERIAL sequence column rather than timestamps.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore validates the connection and returns a store.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	return &PostgresStore{db: db}, nil
}

// OpenPostgres opens and pings a Postgres connection with pool settings
// suited to a small request-driven service.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: postgres dsn must not be empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, tags, available, stock
		FROM menu_items
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("repository: ListItems: %w", err)
	}
	defer rows.Close()

	var items []domain.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListItems scan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListItems rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (domain.MenuItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, tags, available, stock
		FROM menu_items
		WHERE id = $1`, id)
	item, err := scanMenuItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MenuItem{}, fmt.Errorf("repository: menu item %q: %w", id, domain.ErrNotFound)
		}
		return domain.MenuItem{}, fmt.Errorf("repository: GetItem: %w", err)
	}
	return item, nil
}

// DecrementStockIfPositive is the atomic check-and-decrement closing the
// oversell race: the WHERE clause refuses depleted or untracked rows in the
// same statement that writes.
func (s *PostgresStore) DecrementStockIfPositive(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE menu_items
		SET stock = stock - 1
		WHERE id = $1 AND stock IS NOT NULL AND stock > 0`, id)
	if err != nil {
		return false, fmt.Errorf("repository: DecrementStockIfPositive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: DecrementStockIfPositive rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) RestoreStock(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE menu_items
		SET stock = stock + 1
		WHERE id = $1 AND stock IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("repository: RestoreStock: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSubstitutes(ctx context.Context, tags []string, excludeID string, limit int) ([]domain.MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, tags, available, stock
		FROM menu_items
		WHERE available
		  AND stock > 0
		  AND id <> $2
		  AND tags && $1
		ORDER BY name
		LIMIT $3`, pq.Array(tags), excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: FindSubstitutes: %w", err)
	}
	defer rows.Close()

	var subs []domain.MenuItem
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: FindSubstitutes scan: %w", err)
		}
		subs = append(subs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: FindSubstitutes rows: %w", err)
	}
	return subs, nil
}

func (s *PostgresStore) GetOrCreate(ctx context.Context, conversationID, guestID string) (domain.Conversation, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, guest_id, created_at)
		VALUES ($1, NULLIF($2, ''), now())
		ON CONFLICT (id) DO NOTHING`, conversationID, guestID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetOrCreate insert: %w", err)
	}

	var conv domain.Conversation
	var guest sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT id, guest_id, created_at
		FROM conversations
		WHERE id = $1`, conversationID).Scan(&conv.ID, &guest, &conv.CreatedAt)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetOrCreate select: %w", err)
	}
	conv.GuestID = guest.String
	return conv, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, role, text string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (conversation_id, role, body, created_at)
		SELECT id, $2, $3, now() FROM conversations WHERE id = $1`,
		conversationID, role, text)
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: AppendMessage rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repository: conversation %q: %w", conversationID, domain.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, conversationID string) (domain.Conversation, error) {
	var conv domain.Conversation
	var guest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, guest_id, created_at
		FROM conversations
		WHERE id = $1`, conversationID).Scan(&conv.ID, &guest, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Conversation{}, fmt.Errorf("repository: conversation %q: %w", conversationID, domain.ErrNotFound)
		}
		return domain.Conversation{}, fmt.Errorf("repository: Get conversation: %w", err)
	}
	conv.GuestID = guest.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, body, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY seq`, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.Role, &msg.Text, &msg.Timestamp); err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: Get scan message: %w", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: Get message rows: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) Insert(ctx context.Context, order domain.Order, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, conversation_id, item_id, item_name, status, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, conversationID, order.ItemID, order.ItemName, order.Status, order.PlacedAt)
	if err != nil {
		return fmt.Errorf("repository: Insert order: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMenuItem(row rowScanner) (domain.MenuItem, error) {
	var item domain.MenuItem
	var stock sql.NullInt64
	var tags pq.StringArray
	if err := row.Scan(&item.ID, &item.Name, &item.Price, &tags, &item.Available, &stock); err != nil {
		return domain.MenuItem{}, err
	}
	item.Tags = []string(tags)
	if stock.Valid {
		v := int(stock.Int64)
		item.Stock = &v
	}
	return item, nil
}
