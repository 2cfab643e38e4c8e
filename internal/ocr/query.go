// Package ocr reads recognized screen text from a local screenpipe instance.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/pbaille/tweetpipe/internal/domain"
)

// DefaultPageSize is the page size used when a query leaves it unset
const DefaultPageSize = 9

// MaxPageSize caps a single page request
const MaxPageSize = 100

// Query selects one page of OCR records
type Query struct {
	PageIndex  int    `json:"pageIndex"`
	PageSize   int    `json:"pageSize"`
	TextFilter string `json:"textFilter,omitempty"`
	AppFilter  string `json:"appFilter,omitempty"`
}

// Source is a paginated view over OCR records, newest frame first
type Source interface {
	Query(ctx context.Context, q Query) (*domain.OCRPage, error)
}

func (q Query) normalized() Query {
	if q.PageIndex < 0 {
		q.PageIndex = 0
	}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	q.TextFilter = strings.ToLower(strings.TrimSpace(q.TextFilter))
	q.AppFilter = strings.ToLower(strings.TrimSpace(q.AppFilter))
	return q
}

func (q Query) offset() int {
	return q.PageIndex * q.PageSize
}

// focused is declared BOOLEAN by screenpipe; the cast keeps it 0/1 on every path
const selectColumns = "frame_id, text, text_json, app_name, ocr_engine, window_name, CAST(focused AS INTEGER) AS focused"

// whereClause builds the shared filter. With inline set, filter values are
// quoted into the SQL (the raw_sql endpoint takes no parameters); otherwise
// they come back as bind arguments.
func whereClause(q Query, inline bool) (string, []any) {
	clauses := []string{"text IS NOT NULL", "trim(text) != ''"}
	var args []any

	add := func(column, value string) {
		if value == "" {
			return
		}
		pattern := "%" + value + "%"
		if inline {
			clauses = append(clauses, fmt.Sprintf("LOWER(%s) LIKE %s", column, quote(pattern)))
			return
		}
		clauses = append(clauses, fmt.Sprintf("LOWER(%s) LIKE ?", column))
		args = append(args, pattern)
	}
	add("text", q.TextFilter)
	add("app_name", q.AppFilter)

	return strings.Join(clauses, " AND "), args
}

// quote renders s as a SQL string literal
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func countQuery(where string) string {
	return "SELECT COUNT(*) AS total FROM ocr_text WHERE " + where
}

func pageQuery(where string, q Query, inline bool) string {
	base := "SELECT " + selectColumns + " FROM ocr_text WHERE " + where + " ORDER BY frame_id DESC"
	if inline {
		return fmt.Sprintf("%s LIMIT %d OFFSET %d", base, q.PageSize, q.offset())
	}
	return base + " LIMIT ? OFFSET ?"
}
