package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Persister stores a selection outside the process so it survives restarts.
type Persister interface {
	// Load returns the stored selection. A missing value is None(), not an error.
	Load(ctx context.Context) (Choice, error)

	// Save replaces the stored selection.
	Save(ctx context.Context, c Choice) error
}

// FilePersister stores the selection as a JSON Record in a local file.
// The file format is the same one FileWatcher and Link consume, so a file
// written here can also drive a Link in another process.
type FilePersister struct {
	path  string
	codec Codec
}

// NewFilePersister creates a FilePersister for path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path, codec: JSONCodec{}}
}

// Load reads and decodes the file. A missing file is an empty selection.
func (p *FilePersister) Load(_ context.Context) (Choice, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return None(), nil
	}
	if err != nil {
		return None(), fmt.Errorf("failed to read %s: %w", p.path, err)
	}
	var rec Record
	if err := p.codec.Unmarshal(data, &rec); err != nil {
		return None(), fmt.Errorf("failed to decode %s: %w", p.path, err)
	}
	if err := rec.Validate(); err != nil {
		return None(), fmt.Errorf("invalid selection in %s: %w", p.path, err)
	}
	return rec.Choice(), nil
}

// Save writes the selection to a temporary file and renames it into place.
func (p *FilePersister) Save(_ context.Context, c Choice) error {
	data, err := json.Marshal(RecordOf(c))
	if err != nil {
		return fmt.Errorf("failed to encode selection: %w", err)
	}
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".selection-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write selection: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", p.path, err)
	}
	return nil
}

// Ensure FilePersister implements Persister.
var _ Persister = (*FilePersister)(nil)
