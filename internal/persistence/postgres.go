package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type chatRow struct {
	bun.BaseModel `bun:"table:chat_messages,alias:cm"`

	ID        string    `bun:",pk"`
	Text      string    `bun:",notnull"`
	Sender    string    `bun:",notnull"`
	SenderID  string    `bun:",notnull"`
	Region    string
	District  string
	CreatedAt time.Time `bun:",notnull"`
}

type broadcastRow struct {
	bun.BaseModel `bun:"table:broadcast_messages,alias:bm"`

	ID              string `bun:",pk"`
	Title           string `bun:",notnull"`
	Message         string `bun:",notnull"`
	Priority        string
	CreatedBy       string
	TargetRegions   []string  `bun:",array"`
	TargetDistricts []string  `bun:",array"`
	CreatedAt       time.Time `bun:",notnull"`
}

// PostgresStore implements Gateway on top of Postgres via bun.
type PostgresStore struct {
	db *bun.DB
}

var _ Gateway = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates the message tables if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	for _, model := range []any{(*chatRow)(nil), (*broadcastRow)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateChatMessage(ctx context.Context, rec ChatRecord) error {
	row := chatRow{
		ID:        rec.ID,
		Text:      rec.Text,
		Sender:    rec.Sender,
		SenderID:  rec.SenderID,
		Region:    rec.Region,
		District:  rec.District,
		CreatedAt: rec.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("error inserting chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateBroadcastMessage(ctx context.Context, rec BroadcastRecord) error {
	row := broadcastRow{
		ID:              rec.ID,
		Title:           rec.Title,
		Message:         rec.Message,
		Priority:        rec.Priority,
		CreatedBy:       rec.CreatedBy,
		TargetRegions:   rec.TargetRegions,
		TargetDistricts: rec.TargetDistricts,
		CreatedAt:       rec.CreatedAt,
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("error inserting broadcast message: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteChatMessage(ctx context.Context, id string) error {
	if _, err := s.db.NewDelete().Model((*chatRow)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("error deleting chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteBroadcastMessage(ctx context.Context, id string) error {
	if _, err := s.db.NewDelete().Model((*broadcastRow)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return fmt.Errorf("error deleting broadcast message: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentChatMessages(ctx context.Context, limit int) ([]ChatRecord, error) {
	var rows []chatRow
	err := s.db.NewSelect().
		Model(&rows).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error querying chat messages: %w", err)
	}

	recs := make([]ChatRecord, len(rows))
	for i, r := range rows {
		recs[i] = ChatRecord{
			ID:        r.ID,
			Text:      r.Text,
			Sender:    r.Sender,
			SenderID:  r.SenderID,
			Region:    r.Region,
			District:  r.District,
			CreatedAt: r.CreatedAt,
		}
	}
	return recs, nil
}

func (s *PostgresStore) RecentBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error) {
	var rows []broadcastRow
	err := s.db.NewSelect().
		Model(&rows).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error querying broadcast messages: %w", err)
	}

	recs := make([]BroadcastRecord, len(rows))
	for i, r := range rows {
		recs[i] = BroadcastRecord{
			ID:              r.ID,
			Title:           r.Title,
			Message:         r.Message,
			Priority:        r.Priority,
			CreatedBy:       r.CreatedBy,
			TargetRegions:   r.TargetRegions,
			TargetDistricts: r.TargetDistricts,
			CreatedAt:       r.CreatedAt,
		}
	}
	return recs, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
