// Package ingest owns the write path of a corpus: accepting an uploaded PDF,
// parsing and chunking it, embedding the chunks and committing both indexes.
// It also owns deletion, which rebuilds the corpus indexes from the documents
// that remain.
package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l88labs/paramanandha/cache"
	"github.com/l88labs/paramanandha/chunk"
	"github.com/l88labs/paramanandha/config"
	"github.com/l88labs/paramanandha/document"
	"github.com/l88labs/paramanandha/embed"
	"github.com/l88labs/paramanandha/errors"
	"github.com/l88labs/paramanandha/index"
	"github.com/l88labs/paramanandha/parse"
	"github.com/l88labs/paramanandha/pkg/logging"
	"github.com/l88labs/paramanandha/pkg/telemetry"
	"github.com/l88labs/paramanandha/storage"
	"github.com/l88labs/paramanandha/store"
)

// LibraryKey is the lock and cache key of the shared library corpus.
const LibraryKey = "library"

// Ingestor runs the corpus write path. All methods take the corpus write
// lock, so ingestion and deletion serialize against searches.
type Ingestor struct {
	cfg      config.Config
	parser   parse.Parser
	splitter *chunk.Splitter
	embedder embed.Embedder
	store    store.Store
	cache    cache.Cache
	locks    *storage.Locks
	logger   *slog.Logger
}

// Option configures the ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingestor) {
		i.logger = logger
	}
}

// WithParser overrides the PDF parser, mainly for tests.
func WithParser(p parse.Parser) Option {
	return func(i *Ingestor) {
		i.parser = p
	}
}

// WithTokenCounter overrides the splitter's token counter.
func WithTokenCounter(counter chunk.TokenCounter) Option {
	return func(i *Ingestor) {
		i.splitter = chunk.NewSplitter(i.cfg.ChunkSize, i.cfg.ChunkOverlap, counter)
	}
}

// New creates an ingestor.
func New(cfg config.Config, embedder embed.Embedder, st store.Store, c cache.Cache, locks *storage.Locks, opts ...Option) *Ingestor {
	ing := &Ingestor{
		cfg:      cfg,
		parser:   parse.NewPDF(),
		splitter: chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, nil),
		embedder: embedder,
		store:    st,
		cache:    c,
		locks:    locks,
		logger:   logging.WithComponent("ingest"),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// IngestSession adds an uploaded PDF to a session's corpus. The new document
// starts selected and the session flips to the rag type.
func (i *Ingestor) IngestSession(ctx context.Context, sessionID, filename string, data []byte) (store.Document, error) {
	if _, err := i.store.GetSession(ctx, sessionID); err != nil {
		return store.Document{}, err
	}

	doc, err := i.ingest(ctx, sessionID, i.cfg.SessionDir(sessionID), document.SourceSession, filename, data)
	if err != nil {
		return store.Document{}, err
	}

	if err := i.store.UpdateSessionType(ctx, sessionID, store.SessionTypeRAG); err != nil {
		return store.Document{}, err
	}
	return doc, nil
}

// IngestLibrary adds a PDF to the shared library corpus.
func (i *Ingestor) IngestLibrary(ctx context.Context, filename string, data []byte) (store.Document, error) {
	return i.ingest(ctx, "", i.cfg.LibraryDir(), document.SourceLibrary, filename, data)
}

func (i *Ingestor) ingest(ctx context.Context, sessionID, corpusDir string, source document.Source, filename string, data []byte) (store.Document, error) {
	ctx, span := telemetry.Tracer("ingest").Start(ctx, "ingest.document")
	var err error
	defer func() { telemetry.End(span, err) }()

	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		err = fmt.Errorf("%w: only .pdf files are supported, got %q", errors.ErrInvalidInput, filename)
		return store.Document{}, err
	}
	if len(data) == 0 {
		err = fmt.Errorf("%w: empty upload %q", errors.ErrInvalidInput, filename)
		return store.Document{}, err
	}

	lockKey := sessionID
	if lockKey == "" {
		lockKey = LibraryKey
	}
	lock := i.locks.Get(lockKey)
	lock.Lock()
	defer lock.Unlock()

	if err = storage.EnsureCorpus(corpusDir); err != nil {
		return store.Document{}, err
	}

	docID := uuid.NewString()
	rawPath := storage.DocPath(corpusDir, docID)
	if err = os.WriteFile(rawPath, data, 0o644); err != nil {
		err = fmt.Errorf("persist upload: %w", err)
		return store.Document{}, err
	}

	pages, chunks, vectors, err := i.process(ctx, rawPath, filename, docID, source)
	if err != nil {
		os.Remove(rawPath)
		return store.Document{}, err
	}

	dense, sparse := i.loadIndexes(storage.IndexDir(corpusDir))
	if err = dense.Add(vectors, chunks); err != nil {
		os.Remove(rawPath)
		return store.Document{}, err
	}
	sparse.Add(chunks)
	if err = i.saveIndexes(storage.IndexDir(corpusDir), dense, sparse); err != nil {
		os.Remove(rawPath)
		return store.Document{}, err
	}

	doc := store.Document{
		ID:         docID,
		SessionID:  sessionID,
		Filename:   filename,
		Source:     source,
		PageCount:  len(pages),
		ChunkCount: len(chunks),
		Selected:   true,
		UploadedAt: time.Now(),
	}
	if err = i.store.CreateDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}

	if err = i.cache.Invalidate(ctx, lockKey); err != nil {
		i.logger.Warn("cache invalidation failed", "corpus", lockKey, "error", err)
		err = nil
	}

	i.logger.Info("document ingested",
		"doc_id", docID,
		"filename", filename,
		"source", source,
		"pages", len(pages),
		"chunks", len(chunks))
	return doc, nil
}

// process parses, chunks and embeds one document file.
func (i *Ingestor) process(ctx context.Context, path, filename, docID string, source document.Source) ([]document.Page, []document.Chunk, [][]float32, error) {
	pages, err := i.parser.Parse(ctx, path, filename)
	if err != nil {
		return nil, nil, nil, err
	}

	chunks := i.splitter.SplitPages(pages, docID, source)
	if len(chunks) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: %s produced no chunks", errors.ErrInvalidInput, filename)
	}

	texts := make([]string, len(chunks))
	for j, ch := range chunks {
		texts[j] = ch.Text
	}
	vectors, err := i.embedder.Embed(ctx, texts, false)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embed chunks: %w", err)
	}
	return pages, chunks, vectors, nil
}

// Delete removes a document from a session's corpus and rebuilds the
// session's indexes from the documents that remain. When the last document
// goes, the session flips back to the general type.
func (i *Ingestor) Delete(ctx context.Context, sessionID, docID string) error {
	doc, err := i.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.SessionID != sessionID {
		return fmt.Errorf("document %s: %w", docID, errors.ErrNotFound)
	}

	corpusDir := i.cfg.SessionDir(sessionID)

	lock := i.locks.Get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := i.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	os.Remove(storage.DocPath(corpusDir, docID))

	remaining, err := i.store.ListDocuments(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := i.rebuild(ctx, corpusDir, remaining); err != nil {
		return err
	}

	if err := i.cache.Invalidate(ctx, sessionID); err != nil {
		i.logger.Warn("cache invalidation failed", "corpus", sessionID, "error", err)
	}

	sessionType := store.SessionTypeRAG
	if len(remaining) == 0 {
		sessionType = store.SessionTypeGeneral
	}
	if err := i.store.UpdateSessionType(ctx, sessionID, sessionType); err != nil {
		return err
	}

	i.logger.Info("document deleted", "doc_id", docID, "session_id", sessionID, "remaining", len(remaining))
	return nil
}

// DeleteLibrary removes a document from the shared library and rebuilds the
// library indexes.
func (i *Ingestor) DeleteLibrary(ctx context.Context, docID string) error {
	doc, err := i.store.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc.Source != document.SourceLibrary {
		return fmt.Errorf("document %s: %w", docID, errors.ErrNotFound)
	}

	corpusDir := i.cfg.LibraryDir()

	lock := i.locks.Get(LibraryKey)
	lock.Lock()
	defer lock.Unlock()

	if err := i.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	os.Remove(storage.DocPath(corpusDir, docID))

	remaining, err := i.store.ListLibraryDocuments(ctx)
	if err != nil {
		return err
	}
	if err := i.rebuild(ctx, corpusDir, remaining); err != nil {
		return err
	}

	if err := i.cache.Invalidate(ctx, LibraryKey); err != nil {
		i.logger.Warn("cache invalidation failed", "corpus", LibraryKey, "error", err)
	}

	i.logger.Info("library document deleted", "doc_id", docID, "remaining", len(remaining))
	return nil
}

// rebuild re-parses and re-embeds every remaining document and commits fresh
// indexes. Deletion is rare enough that rebuilding beats tombstones.
func (i *Ingestor) rebuild(ctx context.Context, corpusDir string, docs []store.Document) error {
	if err := storage.EnsureCorpus(corpusDir); err != nil {
		return err
	}

	dense := index.NewDense(i.embedder.Dimension())
	sparse := index.NewSparse()
	for _, doc := range docs {
		_, chunks, vectors, err := i.process(ctx, storage.DocPath(corpusDir, doc.ID), doc.Filename, doc.ID, doc.Source)
		if err != nil {
			return fmt.Errorf("rebuild %s: %w", doc.Filename, err)
		}
		if err := dense.Add(vectors, chunks); err != nil {
			return fmt.Errorf("rebuild %s: %w", doc.Filename, err)
		}
		sparse.Add(chunks)
	}
	return i.saveIndexes(storage.IndexDir(corpusDir), dense, sparse)
}

// loadIndexes reads a corpus's indexes, treating a corrupt index like an
// empty one: the data of record is the raw documents, and the next rebuild
// repairs it.
func (i *Ingestor) loadIndexes(indexDir string) (*index.Dense, *index.Sparse) {
	dense, err := index.LoadDense(indexDir, i.embedder.Dimension())
	if err != nil {
		if stderrors.Is(err, errors.ErrCorruptIndex) {
			i.logger.Warn("dense index corrupt, starting empty", "dir", indexDir, "error", err)
		} else {
			i.logger.Error("dense index unreadable, starting empty", "dir", indexDir, "error", err)
		}
		dense = index.NewDense(i.embedder.Dimension())
	}

	sparse, err := index.LoadSparse(indexDir)
	if err != nil {
		if stderrors.Is(err, errors.ErrCorruptIndex) {
			i.logger.Warn("bm25 index corrupt, starting empty", "dir", indexDir, "error", err)
		} else {
			i.logger.Error("bm25 index unreadable, starting empty", "dir", indexDir, "error", err)
		}
		sparse = index.NewSparse()
	}
	return dense, sparse
}

func (i *Ingestor) saveIndexes(indexDir string, dense *index.Dense, sparse *index.Sparse) error {
	return index.SaveAll(indexDir, dense, sparse)
}
