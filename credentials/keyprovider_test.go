package credentials

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestEnvKeyProvider_Key(t *testing.T) {
	const envVar = "TEST_PENF_LINKER_ENCRYPTION_KEY"

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "valid key", value: testKeyHex},
		{name: "missing env var", value: "", wantErr: true},
		{name: "invalid hex", value: "not-valid-hex", wantErr: true},
		{name: "wrong length", value: "0123456789abcdef", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envVar, tt.value)

			key, err := NewEnvKeyProvider(envVar).Key()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			expected, _ := hex.DecodeString(testKeyHex)
			assert.Equal(t, expected, key)
		})
	}
}

func TestEnvKeyProvider_Description(t *testing.T) {
	assert.Contains(t, NewEnvKeyProvider("MY_CUSTOM_KEY").Description(), "MY_CUSTOM_KEY")
}

func TestPassphraseKeyProvider_Key(t *testing.T) {
	salt, err := randomBytes(saltLength)
	require.NoError(t, err)
	otherSalt, err := randomBytes(saltLength)
	require.NoError(t, err)

	key, err := NewPassphraseKeyProvider("my-secure-passphrase", salt).Key()
	require.NoError(t, err)
	assert.Len(t, key, keyLength)

	t.Run("deterministic", func(t *testing.T) {
		again, err := NewPassphraseKeyProvider("my-secure-passphrase", salt).Key()
		require.NoError(t, err)
		assert.Equal(t, key, again)
	})

	t.Run("salt changes key", func(t *testing.T) {
		other, err := NewPassphraseKeyProvider("my-secure-passphrase", otherSalt).Key()
		require.NoError(t, err)
		assert.NotEqual(t, key, other)
	})

	t.Run("passphrase changes key", func(t *testing.T) {
		other, err := NewPassphraseKeyProvider("another-passphrase", salt).Key()
		require.NoError(t, err)
		assert.NotEqual(t, key, other)
	})

	t.Run("empty passphrase", func(t *testing.T) {
		_, err := NewPassphraseKeyProvider("", salt).Key()
		assert.Error(t, err)
	})

	t.Run("empty salt", func(t *testing.T) {
		_, err := NewPassphraseKeyProvider("passphrase", nil).Key()
		assert.Error(t, err)
	})
}

func TestPassphraseKeyProvider_Description(t *testing.T) {
	assert.Contains(t, NewPassphraseKeyProvider("test", []byte("salt")).Description(), "Argon2")
}

func TestDecodeKey(t *testing.T) {
	key, err := decodeKey(testKeyHex, "test")
	require.NoError(t, err)
	assert.Len(t, key, keyLength)

	_, err = decodeKey("abcd", "test")
	assert.ErrorContains(t, err, "must be 32 bytes")
}

func TestLoadOrCreateSalt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	salt, err := LoadOrCreateSalt(dir)
	require.NoError(t, err)
	assert.Len(t, salt, 16)

	info, err := os.Stat(filepath.Join(dir, saltFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := LoadOrCreateSalt(dir)
	require.NoError(t, err)
	assert.Equal(t, salt, again)

	require.NoError(t, os.WriteFile(filepath.Join(dir, saltFile), []byte("zz"), 0600))
	_, err = LoadOrCreateSalt(dir)
	assert.Error(t, err)
}

func TestKeyringKeyProvider_Description(t *testing.T) {
	assert.NotEmpty(t, NewKeyringKeyProvider().Description())
}

// Skipped in CI where no keyring daemon runs.
func TestKeyringKeyProvider_Integration(t *testing.T) {
	if os.Getenv("CI") != "" {
		t.Skip("Skipping keyring test in CI environment")
	}

	provider := NewKeyringKeyProvider()
	key, err := provider.Key()
	if err != nil {
		t.Skipf("Keyring not available: %v", err)
	}
	assert.Len(t, key, keyLength)

	key2, err := provider.Key()
	require.NoError(t, err)
	assert.Equal(t, key, key2)
}

func TestDefaultKeyProvider(t *testing.T) {
	t.Run("encryption key env wins", func(t *testing.T) {
		t.Setenv(EncryptionKeyEnv, testKeyHex)
		t.Setenv(PassphraseEnv, "ignored")

		provider, err := DefaultKeyProvider()
		require.NoError(t, err)
		assert.Contains(t, provider.Description(), EncryptionKeyEnv)

		key, err := provider.Key()
		require.NoError(t, err)
		assert.Len(t, key, keyLength)
	})

	t.Run("passphrase", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("PENF_LINKER_CONFIG_DIR", dir)
		t.Setenv(EncryptionKeyEnv, "")
		t.Setenv(PassphraseEnv, "correct horse battery staple")

		provider, err := DefaultKeyProvider()
		require.NoError(t, err)
		assert.Contains(t, provider.Description(), "Argon2")
		assert.FileExists(t, filepath.Join(dir, saltFile))

		first, err := provider.Key()
		require.NoError(t, err)

		provider, err = DefaultKeyProvider()
		require.NoError(t, err)
		second, err := provider.Key()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}
