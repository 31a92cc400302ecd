package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	session_type TEXT NOT NULL,
	web_mode     BOOLEAN NOT NULL,
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	filename    TEXT NOT NULL,
	source      TEXT NOT NULL,
	page_count  INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	selected    BOOLEAN NOT NULL,
	uploaded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS citations (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL,
	doc_id     TEXT NOT NULL,
	filename   TEXT NOT NULL,
	page       INTEGER NOT NULL,
	chunk_idx  INTEGER NOT NULL,
	excerpt    TEXT NOT NULL,
	score      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_citations_message ON citations(message_id);
`

// sqlStore implements Store over database/sql. Queries are written with ?
// placeholders; the bindRewrite flag converts them to $N for drivers that
// need it.
type sqlStore struct {
	db          *sql.DB
	bindRewrite bool
}

func newSQLStore(db *sql.DB, bindRewrite bool) (*sqlStore, error) {
	s := &sqlStore{db: db, bindRewrite: bindRewrite}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(s.bind(stmt)); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return s, nil
}

// bind rewrites ? placeholders to $1..$N when the driver requires it.
func (s *sqlStore) bind(query string) string {
	if !s.bindRewrite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		s.bind(`INSERT INTO sessions (id, name, session_type, web_mode, created_at) VALUES (?, ?, ?, ?, ?)`),
		sess.ID, sess.Name, sess.SessionType, sess.WebMode, sess.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *sqlStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		s.bind(`SELECT id, name, session_type, web_mode, created_at FROM sessions WHERE id = ?`), id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.Name, &sess.SessionType, &sess.WebMode, &sess.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *sqlStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, session_type, web_mode, created_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.SessionType, &sess.WebMode, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqlStore) UpdateSessionType(ctx context.Context, id, sessionType string) error {
	return s.updateSession(ctx, id,
		`UPDATE sessions SET session_type = ? WHERE id = ?`, sessionType)
}

func (s *sqlStore) SetWebMode(ctx context.Context, id string, webMode bool) error {
	return s.updateSession(ctx, id,
		`UPDATE sessions SET web_mode = ? WHERE id = ?`, webMode)
}

func (s *sqlStore) updateSession(ctx context.Context, id, query string, value any) error {
	res, err := s.db.ExecContext(ctx, s.bind(query), value, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, errors.ErrNotFound)
	}
	return nil
}

func (s *sqlStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM citations WHERE message_id IN (SELECT id FROM messages WHERE session_id = ?)`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM documents WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, s.bind(q), id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) CreateDocument(ctx context.Context, d Document) error {
	_, err := s.db.ExecContext(ctx,
		s.bind(`INSERT INTO documents (id, session_id, filename, source, page_count, chunk_count, selected, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.SessionID, d.Filename, string(d.Source), d.PageCount, d.ChunkCount, d.Selected, d.UploadedAt.UTC())
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *sqlStore) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		s.bind(`SELECT id, session_id, filename, source, page_count, chunk_count, selected, uploaded_at
			FROM documents WHERE id = ?`), id)

	d, err := scanDocument(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, errors.ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func scanDocument(scan func(...any) error) (Document, error) {
	var d Document
	var source string
	err := scan(&d.ID, &d.SessionID, &d.Filename, &source, &d.PageCount, &d.ChunkCount, &d.Selected, &d.UploadedAt)
	d.Source = document.Source(source)
	return d, err
}

func (s *sqlStore) ListDocuments(ctx context.Context, sessionID string) ([]Document, error) {
	return s.queryDocuments(ctx,
		s.bind(`SELECT id, session_id, filename, source, page_count, chunk_count, selected, uploaded_at
			FROM documents WHERE session_id = ? ORDER BY uploaded_at`), sessionID)
}

func (s *sqlStore) ListLibraryDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx,
		s.bind(`SELECT id, session_id, filename, source, page_count, chunk_count, selected, uploaded_at
			FROM documents WHERE source = ? ORDER BY uploaded_at`), string(document.SourceLibrary))
}

func (s *sqlStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) SetSelected(ctx context.Context, docID string, selected bool) error {
	res, err := s.db.ExecContext(ctx,
		s.bind(`UPDATE documents SET selected = ? WHERE id = ?`), selected, docID)
	if err != nil {
		return fmt.Errorf("set selected: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set selected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", docID, errors.ErrNotFound)
	}
	return nil
}

func (s *sqlStore) SelectedDocIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		s.bind(`SELECT id FROM documents WHERE session_id = ? AND selected ORDER BY uploaded_at`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("selected doc ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan doc id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, errors.ErrNotFound)
	}
	return nil
}

func (s *sqlStore) AddMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx,
		s.bind(`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

func (s *sqlStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := `SELECT id, session_id, role, content, created_at FROM messages
		WHERE session_id = ? ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows come newest-first for the LIMIT; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqlStore) AddCitations(ctx context.Context, citations []Citation) error {
	if len(citations) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add citations: %w", err)
	}
	defer tx.Rollback()

	for _, c := range citations {
		if _, err := tx.ExecContext(ctx,
			s.bind(`INSERT INTO citations (id, message_id, doc_id, filename, page, chunk_idx, excerpt, score)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ID, c.MessageID, c.DocID, c.Filename, c.Page, c.ChunkIdx, c.Excerpt, c.Score); err != nil {
			return fmt.Errorf("add citation: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListCitations(ctx context.Context, messageID string) ([]Citation, error) {
	rows, err := s.db.QueryContext(ctx,
		s.bind(`SELECT id, message_id, doc_id, filename, page, chunk_idx, excerpt, score
			FROM citations WHERE message_id = ? ORDER BY score DESC`), messageID)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	defer rows.Close()

	var out []Citation
	for rows.Next() {
		var c Citation
		if err := rows.Scan(&c.ID, &c.MessageID, &c.DocID, &c.Filename, &c.Page, &c.ChunkIdx, &c.Excerpt, &c.Score); err != nil {
			return nil, fmt.Errorf("scan citation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ Store = (*sqlStore)(nil)
