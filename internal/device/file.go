package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the file inside the state directory that holds the ID.
const FileName = "device_id"

// FileProvider persists one identity per installation in a state directory.
//
// The ID is created the first time it is asked for and then reused across
// restarts. If it cannot be written (read-only disk, bad permissions) the
// provider logs a warning and keeps an ephemeral ID for the life of the
// process, so adding and voting still work.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	id string
}

// NewFileProvider stores the identity at <dir>/device_id.
func NewFileProvider(dir string, logger *slog.Logger) *FileProvider {
	return &FileProvider{
		path:   filepath.Join(dir, FileName),
		logger: logger,
	}
}

// DeviceID returns the persisted identity, creating it on first use.
func (p *FileProvider) DeviceID(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id, nil
	}

	id, err := p.load()
	switch {
	case err == nil:
		p.id = id
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		p.logger.Warn("ignoring unreadable device id file",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)
	}

	id = NewID()
	if err := p.store(id); err != nil {
		p.logger.Warn("device id not persisted, using ephemeral id",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)
	}
	p.id = id
	return id, nil
}

func (p *FileProvider) load() (string, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(b))
	if !ValidID(id) {
		return "", fmt.Errorf("malformed device id %q", id)
	}
	return id, nil
}

func (p *FileProvider) store(id string) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p.path, []byte(id+"\n"), 0o600)
}
