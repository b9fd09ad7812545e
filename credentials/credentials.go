// Package credentials keeps the annotation engine API key in
// ~/.penf-linker/credentials.yaml. Secret fields are sealed with AES-GCM
// under a key from a KeyProvider; see DefaultKeyProvider for the lookup order.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCredentialsDir  = ".penf-linker"
	DefaultCredentialsFile = "credentials.yaml"

	// EngineAPIKeyEnv takes precedence over any stored engine API key.
	EngineAPIKeyEnv = "PENF_LINKER_ENGINE_API_KEY"

	configDirEnv = "PENF_LINKER_CONFIG_DIR"
)

var (
	ErrNoCredentials    = errors.New("no credentials stored")
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials is the on-disk record. EngineAPIKey is sealed when written.
type Credentials struct {
	EngineAPIKey string    `yaml:"engine_api_key,omitempty"`
	EngineURL    string    `yaml:"engine_url,omitempty"`
	LastUpdated  time.Time `yaml:"last_updated"`
}

// Store reads and writes the credentials file.
type Store struct {
	path       string
	aead       cipher.AEAD
	keyStorage string
}

// NewStore opens the store with DefaultKeyProvider.
func NewStore() (*Store, error) {
	provider, err := DefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(provider)
}

func NewStoreWithKeyProvider(provider KeyProvider) (*Store, error) {
	path, err := CredentialsPath()
	if err != nil {
		return nil, fmt.Errorf("getting credentials path: %w", err)
	}
	key, err := provider.Key()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return &Store{path: path, aead: aead, keyStorage: provider.Description()}, nil
}

// KeyStorage describes where the encryption key lives.
func (s *Store) KeyStorage() string { return s.keyStorage }

// CredentialsDir is $PENF_LINKER_CONFIG_DIR, or ~/.penf-linker.
func CredentialsDir() (string, error) {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultCredentialsDir), nil
}

func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// Save replaces the credentials file through a temporary file and rename.
func (s *Store) Save(creds *Credentials) error {
	record := *creds
	record.LastUpdated = time.Now().UTC()
	if record.EngineAPIKey != "" {
		sealed, err := s.seal(record.EngineAPIKey)
		if err != nil {
			return fmt.Errorf("sealing engine API key: %w", err)
		}
		record.EngineAPIKey = sealed
	}

	data, err := yaml.Marshal(&record)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

// Load returns ErrNoCredentials when nothing has been saved.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if creds.EngineAPIKey != "" {
		if creds.EngineAPIKey, err = s.open(creds.EngineAPIKey); err != nil {
			return nil, fmt.Errorf("opening engine API key: %w", err)
		}
	}
	return &creds, nil
}

// Delete is a no-op when the file is already gone.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// seal returns base64(nonce || ciphertext).
func (s *Store) seal(plaintext string) (string, error) {
	nonce, err := randomBytes(s.aead.NonceSize())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(s.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (s *Store) open(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: decoding: %v", ErrEncryptionFailed, err)
	}
	n := s.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("%w: sealed value too short", ErrEncryptionFailed)
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	return string(plaintext), nil
}

// EngineAPIKey resolves the key sent to the engine. EngineAPIKeyEnv wins over
// the stored key; a nil store or an empty store yields "".
func EngineAPIKey(s *Store) (string, error) {
	if key := os.Getenv(EngineAPIKeyEnv); key != "" {
		return key, nil
	}
	if s == nil {
		return "", nil
	}
	creds, err := s.Load()
	switch {
	case errors.Is(err, ErrNoCredentials):
		return "", nil
	case err != nil:
		return "", err
	}
	return creds.EngineAPIKey, nil
}

// MaskAPIKey keeps the first four characters of keys longer than eight.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + "********..."
}
