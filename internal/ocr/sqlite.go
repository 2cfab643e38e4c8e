package ocr

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/tweetpipe/internal/domain"
)

// SQLiteSource reads OCR records straight from screenpipe's database file.
// The database is opened read-only; screenpipe stays the only writer.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource opens the screenpipe database at dbPath
func NewSQLiteSource(dbPath string) (*SQLiteSource, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &SQLiteSource{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Query returns one page of OCR records, newest frame first
func (s *SQLiteSource) Query(ctx context.Context, q Query) (*domain.OCRPage, error) {
	q = q.normalized()
	where, args := whereClause(q, false)

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery(where), args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count ocr rows: %w", err)
	}

	pageArgs := append(append([]any{}, args...), q.PageSize, q.offset())
	rows, err := s.db.QueryContext(ctx, pageQuery(where, q, false), pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("list ocr rows: %w", err)
	}
	defer rows.Close()

	chunks := []domain.OCRChunk{}
	for rows.Next() {
		var c domain.OCRChunk
		var textJSON, appName, engine, windowName sql.NullString
		var focused any
		if err := rows.Scan(&c.FrameID, &c.Text, &textJSON, &appName, &engine, &windowName, &focused); err != nil {
			return nil, fmt.Errorf("scan ocr row: %w", err)
		}
		c.TextJSON = textJSON.String
		c.AppName = appName.String
		c.OCREngine = engine.String
		c.WindowName = windowName.String
		c.Focused = focusedFlag(focused)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ocr rows: %w", err)
	}

	return &domain.OCRPage{Data: chunks, TotalRows: total}, nil
}

// focusedFlag maps the focused column to 0/1. The driver yields bool for
// columns declared BOOLEAN and int64 for INTEGER ones.
func focusedFlag(v any) int {
	switch f := v.(type) {
	case bool:
		if f {
			return 1
		}
	case int64:
		if f != 0 {
			return 1
		}
	case []byte:
		if s := string(f); s == "1" || s == "true" || s == "TRUE" {
			return 1
		}
	case string:
		if f == "1" || f == "true" || f == "TRUE" {
			return 1
		}
	}
	return 0
}
