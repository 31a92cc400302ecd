// Package store persists the relational side of the engine: sessions, the
// documents attached to them, message history and per-answer citations.
// Index data lives on disk next to the documents, not here.
package store

import (
	"context"
	"time"

	"github.com/l88labs/paramanandha/document"
)

// Session types. A session flips to rag when it has documents and back to
// general when the last one is deleted.
const (
	SessionTypeGeneral = "general"
	SessionTypeRAG     = "rag"
)

// Session is one conversation with its own document corpus.
type Session struct {
	ID          string
	Name        string
	SessionType string
	WebMode     bool
	CreatedAt   time.Time
}

// Document is the record of one ingested file. SessionID is empty for
// library documents.
type Document struct {
	ID         string
	SessionID  string
	Filename   string
	Source     document.Source
	PageCount  int
	ChunkCount int
	Selected   bool
	UploadedAt time.Time
}

// Message is one turn of a session's history.
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Citation records one source chunk behind an assistant answer.
type Citation struct {
	ID        string
	MessageID string
	DocID     string
	Filename  string
	Page      int
	ChunkIdx  int
	Excerpt   string
	Score     float32
}

// Store is the persistence interface. All methods are safe for concurrent
// use. Lookups of absent rows return errors.ErrNotFound.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSessionType(ctx context.Context, id, sessionType string) error
	SetWebMode(ctx context.Context, id string, webMode bool) error
	DeleteSession(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, d Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, sessionID string) ([]Document, error)
	ListLibraryDocuments(ctx context.Context) ([]Document, error)
	SetSelected(ctx context.Context, docID string, selected bool) error
	SelectedDocIDs(ctx context.Context, sessionID string) ([]string, error)
	DeleteDocument(ctx context.Context, id string) error

	AddMessage(ctx context.Context, m Message) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	AddCitations(ctx context.Context, citations []Citation) error
	ListCitations(ctx context.Context, messageID string) ([]Citation, error)

	Close() error
}
