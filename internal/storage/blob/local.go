package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type localBackend struct {
	root string
}

type sidecar struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func newLocalBackend(dir string) (*localBackend, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./data/backups"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backups dir: %w", err)
	}
	return &localBackend{root: dir}, nil
}

func (b *localBackend) put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := b.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return err
	}
	if err := writeAtomic(p, data); err != nil {
		return err
	}
	meta, err := json.Marshal(sidecar{ContentType: opts.ContentType, Metadata: opts.Metadata})
	if err != nil {
		return err
	}
	return writeAtomic(p+".meta", meta)
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (b *localBackend) get(ctx context.Context, key string) ([]byte, PutOptions, error) {
	if err := ctx.Err(); err != nil {
		return nil, PutOptions{}, err
	}
	p, err := b.resolve(key)
	if err != nil {
		return nil, PutOptions{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, PutOptions{}, ErrNotFound
		}
		return nil, PutOptions{}, err
	}
	var meta sidecar
	raw, err := os.ReadFile(p + ".meta")
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, PutOptions{}, fmt.Errorf("decode metadata for %s: %w", key, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, PutOptions{}, err
	}
	return data, PutOptions{ContentType: meta.ContentType, Metadata: meta.Metadata}, nil
}

func (b *localBackend) delete(_ context.Context, key string) error {
	p, err := b.resolve(key)
	if err != nil {
		return err
	}
	for _, target := range []string{p, p + ".meta"} {
		if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (b *localBackend) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid key: %s", key)
	}
	return filepath.Join(b.root, cleaned), nil
}
