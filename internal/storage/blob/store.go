// Package blob stores workflow definition snapshots on local disk or S3,
// sealing them with AES-GCM when a backups key is configured.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/newflowio/elova/internal/config"
	"github.com/newflowio/elova/internal/secretbox"
)

var ErrNotFound = errors.New("blob: object not found")

const (
	metaEncryption = "elova-encryption"
	encryptionAES  = "aes-gcm"
)

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Encrypted   bool
}

type Store interface {
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// backend is the raw byte store beneath the sealing layer.
type backend interface {
	put(ctx context.Context, key string, data []byte, opts PutOptions) error
	get(ctx context.Context, key string) ([]byte, PutOptions, error)
	delete(ctx context.Context, key string) error
}

type store struct {
	backend backend
	box     *secretbox.Box
}

func New(ctx context.Context, cfg config.BackupsConfig) (Store, error) {
	b, err := buildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	box, err := secretbox.FromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("backups.encryption_key: %w", err)
	}
	return &store{backend: b, box: box}, nil
}

func buildBackend(ctx context.Context, cfg config.BackupsConfig) (backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage)) {
	case "s3":
		return newS3Backend(ctx, cfg.S3)
	default:
		return newLocalBackend(cfg.Local.Directory)
	}
}

// SnapshotKey names the object holding one version of a workflow.
func SnapshotKey(providerID, workflowID, versionHash string) string {
	return path.Join("workflows", safeSegment(providerID), safeSegment(workflowID), safeSegment(versionHash)+".json")
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "_"
	}
	return s
}

func (s *store) Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error) {
	meta := cloneMetadata(opts.Metadata)
	payload := data
	if s.box != nil {
		sealed, err := s.box.Seal(data)
		if err != nil {
			return ObjectInfo{}, err
		}
		payload = sealed
		if meta == nil {
			meta = map[string]string{}
		}
		meta[metaEncryption] = encryptionAES
	}
	if err := s.backend.put(ctx, key, payload, PutOptions{ContentType: opts.ContentType, Metadata: meta}); err != nil {
		return ObjectInfo{}, fmt.Errorf("put %s: %w", key, err)
	}
	return ObjectInfo{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Metadata:    meta,
		Encrypted:   s.box != nil,
	}, nil
}

func (s *store) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	payload, opts, err := s.backend.get(ctx, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info := ObjectInfo{Key: key, ContentType: opts.ContentType, Metadata: opts.Metadata}
	if opts.Metadata[metaEncryption] == "" {
		info.Size = int64(len(payload))
		return payload, info, nil
	}
	if s.box == nil {
		return nil, ObjectInfo{}, fmt.Errorf("get %s: object is encrypted but no backups key is configured", key)
	}
	plain, err := s.box.Open(payload)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("get %s: %w", key, err)
	}
	info.Size = int64(len(plain))
	info.Encrypted = true
	return plain, info, nil
}

func (s *store) Delete(ctx context.Context, key string) error {
	return s.backend.delete(ctx, key)
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
