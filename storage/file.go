package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const fileMode = 0o600

// FileStore is the default durable scope: a JSON document on disk, written
// whole on every change. With a key the document is sealed with
// XChaCha20-Poly1305 so tokens are not readable at rest.
type FileStore struct {
	path   string
	key    []byte
	mu     sync.RWMutex
	values map[string]string
	feed   *feed
}

var (
	_ Store   = (*FileStore)(nil)
	_ Watcher = (*FileStore)(nil)
)

type FileOption func(*FileStore)

// WithSealingKey seals the document with a hex encoded 32 byte key.
func WithSealingKey(hexKey string) FileOption {
	return func(s *FileStore) {
		if hexKey == "" {
			return
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			key = []byte{} // rejected by OpenFileStore
		}
		s.key = key
	}
}

// OpenFileStore loads path if it exists. The parent folder is created.
func OpenFileStore(path string, options ...FileOption) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		values: make(map[string]string),
		feed:   newFeed(),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.key != nil && len(s.key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("[OpenFileStore] sealing key must be %d bytes", chacha20poly1305.KeySize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[OpenFileStore] create folder: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[OpenFileStore] read: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if data, err = s.open(data); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("[OpenFileStore] decode: %w", err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	err := s.persist()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.feed.emit(Change{Key: key, Value: value})
	return nil
}

func (s *FileStore) Delete(_ context.Context, keys ...string) error {
	var removed []string
	s.mu.Lock()
	for _, k := range keys {
		if _, ok := s.values[k]; ok {
			delete(s.values, k)
			removed = append(removed, k)
		}
	}
	var err error
	if len(removed) > 0 {
		err = s.persist()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, k := range removed {
		s.feed.emit(Change{Key: k, Deleted: true})
	}
	return nil
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Watch(ctx context.Context) (<-chan Change, error) {
	return s.feed.watch(ctx), nil
}

func (s *FileStore) Origin() string {
	return s.feed.origin
}

// persist must be called with mu held.
func (s *FileStore) persist() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("[FileStore persist] encode: %w", err)
	}
	if data, err = s.seal(data); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("[FileStore persist] temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore persist] write: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("[FileStore persist] chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("[FileStore persist] close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("[FileStore persist] rename: %w", err)
	}
	return nil
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	if s.key == nil {
		return plain, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("[FileStore seal] %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("[FileStore seal] nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	if s.key == nil {
		return sealed, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, fmt.Errorf("[FileStore open] %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errs.ErrSealedData
	}
	nonce, box := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrSealedData, "[FileStore open] %s", s.path)
	}
	return plain, nil
}
