package keyring

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// MasterKeyEnv names the environment variable holding the master password.
const MasterKeyEnv = "SCHEDBENCH_MASTER_KEY"

// scrypt parameters.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	keyLen       = 32
	saltLen      = 16
	saltFileName = ".salt"
)

// FileStore keeps AES-GCM encrypted secrets, one file per name, under a
// directory. The key is derived from a master password with scrypt and a
// random salt kept next to the secrets.
type FileStore struct {
	dataDir string
	secret  []byte
}

// NewFileStore opens or creates a store in dataDir.
func NewFileStore(dataDir, masterPassword string) (*FileStore, error) {
	if dataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if masterPassword == "" {
		return nil, fmt.Errorf("master password is required (set %s)", MasterKeyEnv)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	salt, err := loadOrCreateSalt(filepath.Join(dataDir, saltFileName))
	if err != nil {
		return nil, err
	}

	secret, err := scrypt.Key([]byte(masterPassword), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	return &FileStore{
		dataDir: dataDir,
		secret:  secret,
	}, nil
}

// NewFileStoreFromEnv opens a store with the master password taken from
// MasterKeyEnv.
func NewFileStoreFromEnv(dataDir string) (*FileStore, error) {
	return NewFileStore(dataDir, os.Getenv(MasterKeyEnv))
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltLen {
			return nil, fmt.Errorf("salt file %s is corrupt", path)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt = make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}

// Set stores an encrypted secret under name.
func (f *FileStore) Set(ctx context.Context, name, secret string) error {
	encrypted, err := f.encrypt(secret)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}

	if err := os.WriteFile(f.secretPath(name), encrypted, 0600); err != nil {
		return fmt.Errorf("write secret file: %w", err)
	}
	return nil
}

// Get retrieves and decrypts the secret stored under name.
func (f *FileStore) Get(ctx context.Context, name string) (string, error) {
	encrypted, err := os.ReadFile(f.secretPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ErrNotFound{Key: name}
		}
		return "", fmt.Errorf("read secret file: %w", err)
	}

	secret, err := f.decrypt(encrypted)
	if err != nil {
		// A wrong master password surfaces here as an authentication failure.
		return "", fmt.Errorf("decrypt secret %s: %w", name, err)
	}
	return secret, nil
}

// Delete removes the secret stored under name.
func (f *FileStore) Delete(ctx context.Context, name string) error {
	if err := os.Remove(f.secretPath(name)); err != nil {
		if os.IsNotExist(err) {
			return &ErrNotFound{Key: name}
		}
		return fmt.Errorf("delete secret file: %w", err)
	}
	return nil
}

// Available reports whether the data directory is writable.
func (f *FileStore) Available(ctx context.Context) bool {
	testFile := filepath.Join(f.dataDir, ".available-test")
	if err := os.WriteFile(testFile, []byte("test"), 0600); err != nil {
		return false
	}
	os.Remove(testFile)
	return true
}

// secretPath hex-encodes name so any name is a safe file name.
func (f *FileStore) secretPath(name string) string {
	return filepath.Join(f.dataDir, hex.EncodeToString([]byte(name))+".enc")
}

func (f *FileStore) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(f.secret)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encrypt seals plaintext with a random nonce prepended.
func (f *FileStore) encrypt(plaintext string) ([]byte, error) {
	gcm, err := f.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (f *FileStore) decrypt(ciphertext []byte) (string, error) {
	gcm, err := f.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
