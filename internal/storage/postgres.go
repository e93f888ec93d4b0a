package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/narrativescanner/scanner/internal/models"
)

const (
	mentionTable        = "mention"
	defaultMentionLimit = 50
)

var mentionColumns = []string{
	"id", "source", "source_id", "author", "text", "url",
	"created_at", "metrics", "lang", "entities", "ingest_ts",
}

// DB is the subset of pgxpool.Pool used by the gateway
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// PostgresStore is the Postgres backed MentionStore
type PostgresStore struct {
	db DB
	qb squirrel.StatementBuilderType
}

var _ MentionStore = (*PostgresStore)(nil)

// NewPostgresStore creates a gateway over an open pool
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		qb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// NewPool opens a pgx pool and fails fast when the database is unreachable
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// SaveMention inserts a mention unless its (source, source_id) already exists
func (s *PostgresStore) SaveMention(ctx context.Context, mention models.Mention) (bool, error) {
	metrics, err := json.Marshal(mention.Metrics)
	if err != nil {
		return false, fmt.Errorf("marshal metrics for %s: %w", mention.SourceID, err)
	}
	entities, err := json.Marshal(mention.Entities)
	if err != nil {
		return false, fmt.Errorf("marshal entities for %s: %w", mention.SourceID, err)
	}

	query, args, err := s.qb.
		Insert(mentionTable).
		Columns("source", "source_id", "author", "text", "url", "created_at", "metrics", "lang", "entities").
		Values(string(mention.Source), mention.SourceID, mention.Author, mention.Text, mention.URL,
			mention.CreatedAt.UTC(), string(metrics), mention.Lang, string(entities)).
		Suffix("ON CONFLICT (source, source_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert mention %s/%s: %w", mention.Source, mention.SourceID, err)
	}

	return tag.RowsAffected() == 1, nil
}

type mentionRow struct {
	ID         int64     `db:"id"`
	Source     string    `db:"source"`
	SourceID   string    `db:"source_id"`
	Author     *string   `db:"author"`
	Text       *string   `db:"text"`
	URL        string    `db:"url"`
	CreatedAt  time.Time `db:"created_at"`
	Metrics    []byte    `db:"metrics"`
	Lang       string    `db:"lang"`
	Entities   []byte    `db:"entities"`
	IngestedAt time.Time `db:"ingest_ts"`
}

// ListMentions returns the newest mentions first
func (s *PostgresStore) ListMentions(ctx context.Context, filter MentionFilter) ([]models.StoredMention, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultMentionLimit
	}

	builder := s.qb.
		Select(mentionColumns...).
		From(mentionTable).
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	if filter.Source != "" {
		builder = builder.Where(squirrel.Eq{"source": string(filter.Source)})
	}
	if filter.Since != nil {
		builder = builder.Where(squirrel.GtOrEq{"created_at": filter.Since.UTC()})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []mentionRow
	if err := pgxscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}

	mentions := make([]models.StoredMention, 0, len(rows))
	for _, row := range rows {
		mention, err := row.toModel()
		if err != nil {
			return nil, err
		}
		mentions = append(mentions, mention)
	}

	return mentions, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (r mentionRow) toModel() (models.StoredMention, error) {
	entities := models.NewEntities()
	if len(r.Entities) > 0 {
		if err := json.Unmarshal(r.Entities, &entities); err != nil {
			return models.StoredMention{}, fmt.Errorf("decode entities of mention %d: %w", r.ID, err)
		}
		entities = fillEntities(entities)
	}

	metrics := json.RawMessage(r.Metrics)
	if len(metrics) == 0 {
		metrics = json.RawMessage("{}")
	}

	return models.StoredMention{
		ID:         r.ID,
		Source:     models.Source(r.Source),
		SourceID:   r.SourceID,
		Author:     r.Author,
		Text:       r.Text,
		URL:        r.URL,
		CreatedAt:  r.CreatedAt.UTC(),
		Metrics:    metrics,
		Lang:       r.Lang,
		Entities:   entities,
		IngestedAt: r.IngestedAt.UTC(),
	}, nil
}

// fillEntities replaces collections decoded as null with empty ones
func fillEntities(e models.Entities) models.Entities {
	if e.Tickers == nil {
		e.Tickers = []string{}
	}
	if e.URLs == nil {
		e.URLs = []string{}
	}
	if e.Mentions == nil {
		e.Mentions = []string{}
	}
	if e.Hashtags == nil {
		e.Hashtags = []string{}
	}
	return e
}
