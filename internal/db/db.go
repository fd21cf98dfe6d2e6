package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/models"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	_ "modernc.org/sqlite"
)

// NoteCollection maps a user to the vector collection holding their notes
type NoteCollection struct {
	bun.BaseModel `bun:"table:note_collections,alias:nc"`
	UserID        string    `bun:"user_id,pk"`
	Name          string    `bun:"name,notnull,unique"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// NoteChunk is the catalog row of a chunk stored in the vector store.
// Seq keeps insertion order.
type NoteChunk struct {
	bun.BaseModel `bun:"table:note_chunks,alias:ch"`
	Seq           int64     `bun:"seq,pk,autoincrement"`
	ID            string    `bun:"id,notnull,unique"`
	UserID        string    `bun:"user_id,notnull"`
	Collection    string    `bun:"collection,notnull"`
	Filename      string    `bun:"filename,notnull"`
	ChunkIndex    int       `bun:"chunk_index,notnull"`
	Content       string    `bun:"content,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type RegisterOutcome int

const (
	Existing RegisterOutcome = iota
	Created
)

func (o RegisterOutcome) String() string {
	if o == Created {
		return "created"
	}
	return "existing"
}

func NewDB(sqldb *sql.DB, cfg *config.DatabaseConfig) *bun.DB {
	var db *bun.DB
	if cfg.Driver == config.DriverSQLite {
		db = bun.NewDB(sqldb, sqlitedialect.New())
	} else {
		db = bun.NewDB(sqldb, pgdialect.New())
	}
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// sqlite allows a single writer; an in-memory database also lives only as
		// long as its connection
		sqldb.SetMaxOpenConns(1)
		return sqldb, nil
	case config.DriverPostgres:
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
	case config.DriverPQ:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return sqldb, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Open connects to the configured database and creates the catalog tables
func Open(ctx context.Context, cfg *config.DatabaseConfig) (*bun.DB, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	db := NewDB(sqldb, cfg)
	if err := InitDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*NoteCollection)(nil), (*NoteChunk)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	_, err := db.NewCreateIndex().
		Model((*NoteChunk)(nil)).
		Index("note_chunks_collection_idx").
		Column("collection", "seq").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// RegisterCollection records name as the collection of userID. A user that
// already has a collection keeps it and gets Existing back.
func RegisterCollection(ctx context.Context, db bun.IDB, userID, name string) (RegisterOutcome, NoteCollection, error) {
	row := NoteCollection{
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	res, err := db.NewInsert().
		Model(&row).
		On("CONFLICT (user_id) DO NOTHING").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return Existing, NoteCollection{}, fmt.Errorf("failed to register collection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Existing, NoteCollection{}, fmt.Errorf("failed to register collection: %w", err)
	}
	if n > 0 {
		return Created, row, nil
	}

	existing, err := GetCollection(ctx, db, userID)
	if err != nil {
		return Existing, NoteCollection{}, err
	}
	return Existing, existing, nil
}

func GetCollection(ctx context.Context, db bun.IDB, userID string) (NoteCollection, error) {
	var row NoteCollection
	err := db.NewSelect().Model(&row).Where("user_id = ?", userID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteCollection{}, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return NoteCollection{}, fmt.Errorf("failed to get collection: %w", err)
	}
	return row, nil
}

// ListCollections returns every registered collection, oldest first
func ListCollections(ctx context.Context, db bun.IDB) ([]NoteCollection, error) {
	var rows []NoteCollection
	if err := db.NewSelect().Model(&rows).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return rows, nil
}

func StoreChunks(ctx context.Context, db bun.IDB, chunks []NoteChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range chunks {
		if chunks[i].CreatedAt.IsZero() {
			chunks[i].CreatedAt = now
		}
	}
	if _, err := db.NewInsert().Model(&chunks).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

// ListChunkContents returns the text of every chunk in collection, in the
// order the chunks were stored.
func ListChunkContents(ctx context.Context, db bun.IDB, collection string) ([]string, error) {
	contents := []string{}
	err := db.NewSelect().
		Model((*NoteChunk)(nil)).
		Column("content").
		Where("collection = ?", collection).
		Order("seq ASC").
		Scan(ctx, &contents)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return contents, nil
}

// ListChunks returns the catalog rows of collection in insertion order
func ListChunks(ctx context.Context, db bun.IDB, collection string) ([]NoteChunk, error) {
	var rows []NoteChunk
	err := db.NewSelect().
		Model(&rows).
		Where("collection = ?", collection).
		Order("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return rows, nil
}

func CountChunks(ctx context.Context, db bun.IDB, collection string) (int, error) {
	n, err := db.NewSelect().Model((*NoteChunk)(nil)).Where("collection = ?", collection).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
