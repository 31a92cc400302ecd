package index

import (
	"fmt"
	"os"
	"path/filepath"
)

// stager writes index artifacts to temp files in the target directory and
// commits them all with back-to-back renames. Staging everything before the
// first rename keeps sibling artifacts from landing in different generations
// when a write fails partway.
type stager struct {
	dir     string
	pending []stagedFile
}

type stagedFile struct {
	tmp   string
	final string
}

func newStager(dir string) (*stager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return &stager{dir: dir}, nil
}

// stage writes data to a temp file next to its final name. On failure the
// stager aborts, removing everything staged so far.
func (st *stager) stage(name string, data []byte) error {
	tmp, err := os.CreateTemp(st.dir, name+".tmp-*")
	if err != nil {
		st.abort()
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		st.abort()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		st.abort()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		st.abort()
		return fmt.Errorf("close temp file: %w", err)
	}

	st.pending = append(st.pending, stagedFile{tmp: tmpName, final: filepath.Join(st.dir, name)})
	return nil
}

// commit renames every staged file onto its final name.
func (st *stager) commit() error {
	for i, f := range st.pending {
		if err := os.Rename(f.tmp, f.final); err != nil {
			for _, rest := range st.pending[i:] {
				os.Remove(rest.tmp)
			}
			st.pending = nil
			return fmt.Errorf("commit index file: %w", err)
		}
	}
	st.pending = nil
	return nil
}

func (st *stager) abort() {
	for _, f := range st.pending {
		os.Remove(f.tmp)
	}
	st.pending = nil
}

// SaveAll persists both indexes of a corpus into dir as one staged commit:
// all four artifacts are written to temp files first and renamed together.
func SaveAll(dir string, dense *Dense, sparse *Sparse) error {
	st, err := newStager(dir)
	if err != nil {
		return err
	}
	if err := dense.stage(st); err != nil {
		return err
	}
	if err := sparse.stage(st); err != nil {
		return err
	}
	return st.commit()
}
