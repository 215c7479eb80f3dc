package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/storage/models"
	"github.com/askspm/backend/pkg/logger"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_cards (
		id TEXT PRIMARY KEY,
		keyword TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT NOT NULL,
		pillar TEXT,
		category TEXT,
		card_type TEXT DEFAULT 'concept',
		position INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cards_pillar ON knowledge_cards(pillar);
	CREATE INDEX IF NOT EXISTS idx_cards_position ON knowledge_cards(position);

	CREATE TABLE IF NOT EXISTS answer_library (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		embedding TEXT NOT NULL,
		answer TEXT NOT NULL,
		confidence REAL NOT NULL,
		hits INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ask_queries (
		id TEXT PRIMARY KEY,
		session_token TEXT,
		query_text TEXT NOT NULL,
		answer TEXT,
		from_library INTEGER NOT NULL DEFAULT 0,
		library_id TEXT,
		embedding_ms INTEGER,
		search_ms INTEGER,
		generation_ms INTEGER,
		total_ms INTEGER,
		embedding_model TEXT,
		generation_model TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queries_session ON ask_queries(session_token);
	CREATE INDEX IF NOT EXISTS idx_queries_created ON ask_queries(created_at);

	CREATE TABLE IF NOT EXISTS query_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		library_id TEXT,
		polarity TEXT NOT NULL,
		comment TEXT,
		fingerprint TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(query_id, fingerprint),
		FOREIGN KEY (query_id) REFERENCES ask_queries(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON query_feedback(query_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertCard(ctx context.Context, card *models.KnowledgeCard) error {
	embJSON, err := json.Marshal(card.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO knowledge_cards (id, keyword, content, embedding, pillar, category, card_type, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx, query,
		card.ID,
		card.Keyword,
		card.Content,
		string(embJSON),
		card.Pillar,
		card.Category,
		card.CardType,
		card.Position,
		card.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge card: %w", err)
	}

	return nil
}

// ListCards returns the whole corpus in stable ingestion order.
func (c *Client) ListCards(ctx context.Context) ([]models.KnowledgeCard, error) {
	query := `
		SELECT id, keyword, content, embedding, pillar, category, card_type, position, created_at
		FROM knowledge_cards
		ORDER BY position ASC, id ASC
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge cards: %w", err)
	}
	defer rows.Close()

	var cards []models.KnowledgeCard
	for rows.Next() {
		var card models.KnowledgeCard
		var embJSON string
		var createdAt int64

		err := rows.Scan(&card.ID, &card.Keyword, &card.Content, &embJSON,
			&card.Pillar, &card.Category, &card.CardType, &card.Position, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}

		if err := json.Unmarshal([]byte(embJSON), &card.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal card embedding: %w", err)
		}
		card.CreatedAt = time.Unix(createdAt, 0)
		cards = append(cards, card)
	}

	return cards, rows.Err()
}

func (c *Client) CountCards(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_cards`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count knowledge cards: %w", err)
	}
	return n, nil
}

func (c *Client) InsertLibraryEntry(ctx context.Context, entry *models.AnswerLibraryEntry) error {
	embJSON, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO answer_library (id, question, embedding, answer, confidence, hits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.ExecContext(ctx, query,
		entry.ID,
		entry.Question,
		string(embJSON),
		entry.Answer,
		entry.Confidence,
		entry.Hits,
		entry.CreatedAt.Unix(),
		entry.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert library entry: %w", err)
	}

	logger.Debug("Answer library entry stored", zap.String("entry_id", entry.ID))
	return nil
}

func (c *Client) ListLibraryEntries(ctx context.Context) ([]models.AnswerLibraryEntry, error) {
	query := `
		SELECT id, question, embedding, answer, confidence, hits, created_at, updated_at
		FROM answer_library
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list library entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AnswerLibraryEntry
	for rows.Next() {
		var entry models.AnswerLibraryEntry
		var embJSON string
		var createdAt, updatedAt int64

		err := rows.Scan(&entry.ID, &entry.Question, &embJSON, &entry.Answer,
			&entry.Confidence, &entry.Hits, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library row: %w", err)
		}

		if err := json.Unmarshal([]byte(embJSON), &entry.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry embedding: %w", err)
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entry.UpdatedAt = time.Unix(updatedAt, 0)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (c *Client) BumpLibraryHits(ctx context.Context, id string) error {
	query := `UPDATE answer_library SET hits = hits + 1, updated_at = ? WHERE id = ?`

	res, err := c.db.ExecContext(ctx, query, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to bump library hits: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustLibraryConfidence applies delta as a single atomic UPDATE clamped to
// [min, max], so concurrent adjustments on the same entry never lose updates.
func (c *Client) AdjustLibraryConfidence(ctx context.Context, id string, delta, min, max float64) (float64, error) {
	query := `
		UPDATE answer_library
		SET confidence = MAX(?, MIN(?, confidence + ?)), updated_at = ?
		WHERE id = ?
		RETURNING confidence
	`

	var confidence float64
	err := c.db.QueryRowContext(ctx, query, min, max, delta, time.Now().Unix(), id).Scan(&confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to adjust library confidence: %w", err)
	}

	return confidence, nil
}

func (c *Client) InsertAskQuery(ctx context.Context, q *models.AskQuery) error {
	query := `
		INSERT INTO ask_queries (id, session_token, query_text, answer, from_library, library_id,
			embedding_ms, search_ms, generation_ms, total_ms, embedding_model, generation_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	fromLibrary := 0
	if q.FromLibrary {
		fromLibrary = 1
	}

	_, err := c.db.ExecContext(ctx, query,
		q.ID,
		q.SessionToken,
		q.QueryText,
		q.Answer,
		fromLibrary,
		q.LibraryID,
		q.EmbeddingMS,
		q.SearchMS,
		q.GenerationMS,
		q.TotalMS,
		q.EmbeddingModel,
		q.GenerationModel,
		q.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ask query: %w", err)
	}

	logger.Debug("Ask query recorded",
		zap.String("query_id", q.ID),
		zap.Bool("from_library", q.FromLibrary),
	)
	return nil
}

func (c *Client) GetAskQuery(ctx context.Context, id string) (*models.AskQuery, error) {
	query := `
		SELECT id, session_token, query_text, answer, from_library, library_id, created_at
		FROM ask_queries WHERE id = ?
	`

	var q models.AskQuery
	var fromLibrary int
	var createdAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&q.ID, &q.SessionToken, &q.QueryText, &q.Answer, &fromLibrary, &q.LibraryID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ask query: %w", err)
	}

	q.FromLibrary = fromLibrary == 1
	q.CreatedAt = time.Unix(createdAt, 0)
	return &q, nil
}

// InsertFeedback returns ErrDuplicate when feedback from the same fingerprint
// already exists for the query.
func (c *Client) InsertFeedback(ctx context.Context, fb *models.QueryFeedback) (int64, error) {
	query := `
		INSERT INTO query_feedback (query_id, library_id, polarity, comment, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.ExecContext(ctx, query,
		fb.QueryID,
		fb.LibraryID,
		fb.Polarity,
		fb.Comment,
		fb.Fingerprint,
		time.Now().Unix(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("failed to insert feedback: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read feedback id: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", fb.QueryID),
		zap.String("polarity", fb.Polarity),
	)
	return id, nil
}
