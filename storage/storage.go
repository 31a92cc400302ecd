// Package storage defines the on-disk layout of a corpus and the per-corpus
// lock registry. A corpus directory (one per session, plus one shared
// library) holds raw uploaded files under docs/ and both indexes under
// index/.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// DocsDir returns the raw document directory of a corpus.
func DocsDir(corpusDir string) string {
	return filepath.Join(corpusDir, "docs")
}

// IndexDir returns the index directory of a corpus.
func IndexDir(corpusDir string) string {
	return filepath.Join(corpusDir, "index")
}

// DocPath returns where the raw bytes of one document live.
func DocPath(corpusDir, docID string) string {
	return filepath.Join(DocsDir(corpusDir), docID+".pdf")
}

// EnsureCorpus creates the corpus directory tree if absent.
func EnsureCorpus(corpusDir string) error {
	for _, dir := range []string{DocsDir(corpusDir), IndexDir(corpusDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create corpus dir: %w", err)
		}
	}
	return nil
}
