package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

// Environment variables consulted by DefaultKeyProvider, in this order.
const (
	EncryptionKeyEnv = "PENF_LINKER_ENCRYPTION_KEY"
	PassphraseEnv    = "PENF_LINKER_PASSPHRASE"
)

const (
	keyringService = "penf-linker"
	keyringAccount = "credentials-key"

	keyLength  = 32 // AES-256
	saltLength = 16
	saltFile   = "credentials.salt"

	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// ErrKeyringUnavailable means the system keyring could not be read or written.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider supplies the key that encrypts the credentials file.
type KeyProvider interface {
	// Key returns a keyLength-byte key. Repeated calls return the same key.
	Key() ([]byte, error)
	// Description names where the key lives, for `auth engine-key status`.
	Description() string
}

type keySource struct {
	description string
	load        func() ([]byte, error)
}

func (s keySource) Key() ([]byte, error) { return s.load() }

func (s keySource) Description() string { return s.description }

// NewEnvKeyProvider reads a hex-encoded key from the environment variable name.
func NewEnvKeyProvider(name string) KeyProvider {
	return keySource{
		description: fmt.Sprintf("Environment variable (%s)", name),
		load: func() ([]byte, error) {
			value := os.Getenv(name)
			if value == "" {
				return nil, fmt.Errorf("environment variable %s not set", name)
			}
			return decodeKey(value, name)
		},
	}
}

// NewPassphraseKeyProvider derives the key from passphrase with Argon2id.
// The same passphrase and salt always give the same key.
func NewPassphraseKeyProvider(passphrase string, salt []byte) KeyProvider {
	return keySource{
		description: "Passphrase-derived key (Argon2id)",
		load: func() ([]byte, error) {
			switch {
			case passphrase == "":
				return nil, errors.New("passphrase is required")
			case len(salt) == 0:
				return nil, errors.New("salt is required")
			}
			return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, keyLength), nil
		},
	}
}

// NewKeyringKeyProvider keeps the key in the system keyring, creating it on
// first use. A stored value that does not decode to a key is replaced.
func NewKeyringKeyProvider() KeyProvider {
	var (
		mu  sync.Mutex
		key []byte
	)
	return keySource{
		description: keyringName(),
		load: func() ([]byte, error) {
			mu.Lock()
			defer mu.Unlock()
			if key != nil {
				return key, nil
			}

			stored, err := keyring.Get(keyringService, keyringAccount)
			switch {
			case err == nil:
				if k, decErr := decodeKey(stored, "keyring"); decErr == nil {
					key = k
					return key, nil
				}
			case !errors.Is(err, keyring.ErrNotFound):
				return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
			}

			fresh, err := randomBytes(keyLength)
			if err != nil {
				return nil, err
			}
			if err := keyring.Set(keyringService, keyringAccount, hex.EncodeToString(fresh)); err != nil {
				return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
			}
			key = fresh
			return key, nil
		},
	}
}

func keyringName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

func decodeKey(value, source string) ([]byte, error) {
	key, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", source, err)
	}
	if len(key) != keyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", source, keyLength, len(key))
	}
	return key, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// LoadOrCreateSalt returns the Argon2 salt stored in dir, creating one on
// first use.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		salt, decErr := hex.DecodeString(string(data))
		if decErr != nil || len(salt) == 0 {
			return nil, fmt.Errorf("invalid salt in %s", path)
		}
		return salt, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	salt, err := randomBytes(saltLength)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("writing salt: %w", err)
	}
	return salt, nil
}

// DefaultKeyProvider picks the key source for this host: an explicit key in
// PENF_LINKER_ENCRYPTION_KEY, then a passphrase in PENF_LINKER_PASSPHRASE
// (salted from the credentials directory), then the system keyring.
func DefaultKeyProvider() (KeyProvider, error) {
	if os.Getenv(EncryptionKeyEnv) != "" {
		return NewEnvKeyProvider(EncryptionKeyEnv), nil
	}

	if passphrase := os.Getenv(PassphraseEnv); passphrase != "" {
		dir, err := CredentialsDir()
		if err != nil {
			return nil, err
		}
		salt, err := LoadOrCreateSalt(dir)
		if err != nil {
			return nil, err
		}
		return NewPassphraseKeyProvider(passphrase, salt), nil
	}

	provider := NewKeyringKeyProvider()
	if _, err := provider.Key(); err != nil {
		if errors.Is(err, ErrKeyringUnavailable) {
			return nil, fmt.Errorf("set %s or %s: %w", EncryptionKeyEnv, PassphraseEnv, err)
		}
		return nil, err
	}
	return provider, nil
}
