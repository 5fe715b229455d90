// Package sqlstore persists chapters and reading progress in SQLite.
//
// Chapter markup can be stored xz-compressed; every row records its own
// encoding, so a database written with compression on stays readable with it
// off and the other way round.
package sqlstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ulikunitz/xz"
	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/simp-lee/bookstream"
)

const schema = `
CREATE TABLE IF NOT EXISTS chapters (
	document_id TEXT    NOT NULL,
	ord         INTEGER NOT NULL,
	id          TEXT    NOT NULL,
	title       TEXT    NOT NULL DEFAULT '',
	href        TEXT    NOT NULL DEFAULT '',
	linear      INTEGER NOT NULL DEFAULT 1,
	is_license  INTEGER NOT NULL DEFAULT 0,
	encoding    INTEGER NOT NULL DEFAULT 0,
	markup      BLOB,
	plain_text  TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, ord)
);
CREATE TABLE IF NOT EXISTS progress (
	document_id   TEXT    PRIMARY KEY,
	chapter_index INTEGER NOT NULL,
	position      TEXT    NOT NULL DEFAULT '',
	updated_at    INTEGER NOT NULL
);
`

// markup encodings
const (
	encodingRaw = 0
	encodingXZ  = 1
)

// DefaultPoolSize is the number of pooled connections.
const DefaultPoolSize = 4

// Store is a bookstream.Storage on a pool of SQLite connections.
type Store struct {
	pool     *sqlitex.Pool
	log      *zap.Logger
	compress bool
}

var _ bookstream.Storage = (*Store)(nil)

// Option configures a Store.
type Option func(*settings)

type settings struct {
	log      *zap.Logger
	poolSize int
	compress bool
}

// WithLogger sets the store logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithPoolSize sets the number of pooled connections.
func WithPoolSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.poolSize = n
		}
	}
}

// WithCompressedMarkup makes StoreChapters write markup xz-compressed.
func WithCompressedMarkup(on bool) Option {
	return func(s *settings) {
		s.compress = on
	}
}

// Open opens (creating if needed) the database at path and prepares the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	st := settings{log: zap.NewNop(), poolSize: DefaultPoolSize}
	for _, opt := range opts {
		opt(&st)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    st.poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	s := &Store{pool: pool, log: st.log, compress: st.compress}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("take connection: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s.log.Debug("Database ready", zap.String("path", path), zap.Int("pool", st.poolSize), zap.Bool("compress", st.compress))
	return s, nil
}

// connPragmas run outside a transaction on every new connection; journal_mode
// cannot change inside one.
var connPragmas = []string{
	`PRAGMA journal_mode = WAL;`,
	`PRAGMA synchronous = NORMAL;`,
	`PRAGMA busy_timeout = 5000;`,
}

func prepareConn(conn *sqlite.Conn) error {
	for _, q := range connPragmas {
		if err := sqlitex.ExecuteTransient(conn, q, nil); err != nil {
			return fmt.Errorf("%s: %w", q, err)
		}
	}
	return nil
}

// Close closes every pooled connection.
func (s *Store) Close() error {
	return s.pool.Close()
}

// StoreChapters replaces the chapters of documentID in one transaction.
func (s *Store) StoreChapters(ctx context.Context, documentID string, chapters []bookstream.Chapter) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer endFn(&err)

	if err = sqlitex.Execute(conn, `DELETE FROM chapters WHERE document_id = ?;`,
		&sqlitex.ExecOptions{Args: []any{documentID}}); err != nil {
		return fmt.Errorf("delete chapters of %s: %w", documentID, err)
	}

	var size, stored int
	for _, ch := range chapters {
		markup, enc, err := s.encodeMarkup(ch.RawMarkup)
		if err != nil {
			return fmt.Errorf("encode chapter %d: %w", ch.Order, err)
		}
		size += len(ch.RawMarkup)
		stored += len(markup)
		if err = sqlitex.Execute(conn, `
INSERT INTO chapters (document_id, ord, id, title, href, linear, is_license, encoding, markup, plain_text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			&sqlitex.ExecOptions{Args: []any{
				documentID, ch.Order, ch.ID, ch.Title, ch.Href,
				boolInt(ch.Linear), boolInt(ch.IsLicense), enc, markup, ch.PlainText,
			}}); err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.Order, err)
		}
	}

	s.log.Debug("Stored chapters",
		zap.String("document", documentID),
		zap.Int("chapters", len(chapters)),
		zap.Int("markup", size),
		zap.Int("stored", stored))
	return nil
}

// LoadChapters returns the chapters of documentID ordered by Order.
func (s *Store) LoadChapters(ctx context.Context, documentID string) ([]bookstream.Chapter, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var chapters []bookstream.Chapter
	err = sqlitex.Execute(conn, `
SELECT ord, id, title, href, linear, is_license, encoding, markup, plain_text
FROM chapters WHERE document_id = ? ORDER BY ord;`,
		&sqlitex.ExecOptions{
			Args: []any{documentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				markup, err := decodeMarkup(stmt.ColumnInt(6), stmt.ColumnReader(7))
				if err != nil {
					return fmt.Errorf("chapter %d: %w", stmt.ColumnInt(0), err)
				}
				chapters = append(chapters, bookstream.Chapter{
					ID:         stmt.ColumnText(1),
					DocumentID: documentID,
					Order:      stmt.ColumnInt(0),
					Title:      stmt.ColumnText(2),
					Href:       stmt.ColumnText(3),
					Linear:     stmt.ColumnInt(4) != 0,
					IsLicense:  stmt.ColumnInt(5) != 0,
					RawMarkup:  markup,
					PlainText:  stmt.ColumnText(8),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("load chapters of %s: %w", documentID, err)
	}
	return chapters, nil
}

// SaveProgress upserts the reading progress of documentID.
func (s *Store) SaveProgress(ctx context.Context, documentID string, chapterIndex int, position string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
INSERT INTO progress (document_id, chapter_index, position, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (document_id) DO UPDATE SET
	chapter_index = excluded.chapter_index,
	position = excluded.position,
	updated_at = excluded.updated_at;`,
		&sqlitex.ExecOptions{Args: []any{documentID, chapterIndex, position, time.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("save progress of %s: %w", documentID, err)
	}
	return nil
}

// LoadProgress reports false when nothing was saved for documentID.
func (s *Store) LoadProgress(ctx context.Context, documentID string) (bookstream.ReadingProgress, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return bookstream.ReadingProgress{}, false, fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		p     bookstream.ReadingProgress
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT chapter_index, position FROM progress WHERE document_id = ?;`,
		&sqlitex.ExecOptions{
			Args: []any{documentID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				p = bookstream.ReadingProgress{
					DocumentID:   documentID,
					ChapterIndex: stmt.ColumnInt(0),
					Position:     stmt.ColumnText(1),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return bookstream.ReadingProgress{}, false, fmt.Errorf("load progress of %s: %w", documentID, err)
	}
	return p, found, nil
}

// Documents returns the IDs of documents with stored chapters.
func (s *Store) Documents(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	var ids []string
	err = sqlitex.Execute(conn, `SELECT DISTINCT document_id FROM chapters ORDER BY document_id;`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnText(0))
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return ids, nil
}

func (s *Store) encodeMarkup(markup []byte) ([]byte, int, error) {
	if !s.compress || len(markup) == 0 {
		return markup, encodingRaw, nil
	}
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, 0, err
	}
	if _, err := w.Write(markup); err != nil {
		return nil, 0, err
	}
	if err := w.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), encodingXZ, nil
}

func decodeMarkup(enc int, r io.Reader) ([]byte, error) {
	switch enc {
	case encodingRaw:
		return io.ReadAll(r)
	case encodingXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz markup: %w", err)
		}
		return io.ReadAll(xr)
	default:
		return nil, fmt.Errorf("unknown markup encoding %d", enc)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
