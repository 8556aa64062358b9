package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

const encryptedPrefix = "ENC:"

var _ Backend = (*FileBackend)(nil)

// FileBackend keeps entries in a single JSON file, rewritten atomically on
// every mutation. With a passphrase, values are sealed with XChaCha20-Poly1305.
type FileBackend struct {
	filePath string
	key      []byte
	values   map[string]string
	mu       sync.RWMutex
}

type fileContents struct {
	Values    map[string]string `json:"values"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewFileBackend opens (or creates) the store at filePath. An empty
// passphrase disables encryption.
func NewFileBackend(filePath, passphrase string) (*FileBackend, error) {
	fb := &FileBackend{
		filePath: filePath,
		values:   make(map[string]string),
	}
	if passphrase != "" {
		sum := sha256.Sum256([]byte(passphrase))
		fb.key = sum[:]
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := fb.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load credentials file: %w", err)
	}
	return fb, nil
}

func (fb *FileBackend) Set(_ context.Context, key, value string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	prev, existed := fb.values[key]
	fb.values[key] = value
	if err := fb.syncToFile(); err != nil {
		if existed {
			fb.values[key] = prev
		} else {
			delete(fb.values, key)
		}
		return err
	}
	return nil
}

func (fb *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	v, ok := fb.values[key]
	return v, ok, nil
}

func (fb *FileBackend) Remove(_ context.Context, key string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	prev, existed := fb.values[key]
	if !existed {
		return nil
	}
	delete(fb.values, key)
	if err := fb.syncToFile(); err != nil {
		fb.values[key] = prev
		return err
	}
	return nil
}

// Clear empties the store with a single file rewrite.
func (fb *FileBackend) Clear(_ context.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	prev := fb.values
	fb.values = make(map[string]string)
	if err := fb.syncToFile(); err != nil {
		fb.values = prev
		return err
	}
	return nil
}

func (fb *FileBackend) Keys(_ context.Context) ([]string, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	keys := make([]string, 0, len(fb.values))
	for k := range fb.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func (fb *FileBackend) Close() error { return nil }

// syncToFile writes entries to disk. Callers hold fb.mu.
func (fb *FileBackend) syncToFile() error {
	data := fileContents{
		Values:    make(map[string]string, len(fb.values)),
		UpdatedAt: time.Now().UTC(),
	}
	for k, v := range fb.values {
		sealed, err := fb.seal(v)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", k, err)
		}
		data.Values[k] = sealed
	}

	tempFile := fb.filePath + ".tmp"
	file, err := os.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&data); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempFile, fb.filePath); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (fb *FileBackend) loadFromFile() error {
	raw, err := os.ReadFile(fb.filePath)
	if err != nil {
		return err
	}
	var data fileContents
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to decode credentials: %w", err)
	}
	values := make(map[string]string, len(data.Values))
	for k, v := range data.Values {
		opened, err := fb.open(v)
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", k, err)
		}
		values[k] = opened
	}
	fb.values = values
	return nil
}

func (fb *FileBackend) seal(value string) (string, error) {
	if fb.key == nil {
		return value, nil
	}
	aead, err := chacha20poly1305.NewX(fb.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (fb *FileBackend) open(value string) (string, error) {
	if !strings.HasPrefix(value, encryptedPrefix) {
		return value, nil
	}
	if fb.key == nil {
		return "", errors.New("value is encrypted but no encryption key is configured")
	}
	sealed, err := base64.StdEncoding.DecodeString(value[len(encryptedPrefix):])
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(fb.key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
