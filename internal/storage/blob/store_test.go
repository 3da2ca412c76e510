package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/newflowio/elova/internal/config"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := New(context.Background(), config.BackupsConfig{Storage: "local", Local: config.BackupsLocalConfig{Directory: dir}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	key := SnapshotKey("prov-1", "wf/../7", "abc123")
	if key != "workflows/prov-1/wf___7/abc123.json" {
		t.Fatalf("unexpected key %q", key)
	}

	info, err := st.Put(ctx, key, []byte(`{"name":"flow"}`), PutOptions{ContentType: "application/json", Metadata: map[string]string{"workflow": "7"}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if info.Encrypted || info.Size != 15 {
		t.Fatalf("unexpected info %+v", info)
	}

	data, got, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != `{"name":"flow"}` || got.ContentType != "application/json" || got.Metadata["workflow"] != "7" {
		t.Fatalf("unexpected object %q %+v", data, got)
	}

	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := st.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEncryptedStoreSealsOnDisk(t *testing.T) {
	dir := t.TempDir()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 32))
	st, err := New(context.Background(), config.BackupsConfig{Storage: "local", EncryptionKey: key, Local: config.BackupsLocalConfig{Directory: dir}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	objKey := SnapshotKey("p", "w", "h")
	info, err := st.Put(ctx, objKey, []byte("secret workflow"), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !info.Encrypted {
		t.Fatalf("expected encrypted object")
	}
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(objKey)))
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if bytes.Contains(raw, []byte("secret workflow")) {
		t.Fatalf("snapshot stored in clear")
	}
	data, got, err := st.Get(ctx, objKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "secret workflow" || !got.Encrypted {
		t.Fatalf("unexpected result %q %+v", data, got)
	}

	plain, err := New(ctx, config.BackupsConfig{Storage: "local", Local: config.BackupsLocalConfig{Directory: dir}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := plain.Get(ctx, objKey); err == nil {
		t.Fatalf("expected error reading sealed object without key")
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	b, err := newLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("newLocalBackend: %v", err)
	}
	for _, key := range []string{"../etc/passwd", "/abs", "."} {
		if _, err := b.resolve(key); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
}
