package crash

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// ErrProcessingFileExists is returned when a previous run left the
// sentinel of a record behind.
var ErrProcessingFileExists = errors.New("processing file already exists")

// ProcessingFile marks one record as being evaluated. It is created before
// the record is read and removed once all work on the record is done; a
// sentinel that outlives its process marks the record as untrusted.
type ProcessingFile struct {
	path    string
	created bool
}

// CreateProcessingFile creates the sentinel for metaPath. It fails with
// ErrProcessingFileExists when the sentinel is already present.
func CreateProcessingFile(metaPath string) (*ProcessingFile, error) {
	path := ProcessingPath(metaPath)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrProcessingFileExists, path)
		}

		return &ProcessingFile{path: path}, fmt.Errorf("create processing file: %w", err)
	}

	if err := f.Close(); err != nil {
		return &ProcessingFile{path: path, created: true}, fmt.Errorf("close processing file: %w", err)
	}

	return &ProcessingFile{path: path, created: true}, nil
}

// Path returns the sentinel path.
func (p *ProcessingFile) Path() string {
	return p.path
}

// Release removes the sentinel. It is safe to call on a nil receiver and
// more than once.
func (p *ProcessingFile) Release() error {
	if p == nil || !p.created {
		return nil
	}

	p.created = false

	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove processing file: %w", err)
	}

	return nil
}
