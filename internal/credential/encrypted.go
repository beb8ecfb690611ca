package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"mcp-food-lens/internal/storage"
)

const (
	saltKey   = "credential:salt"
	recordKey = "credential:api_key"

	saltSize  = 16
	nonceSize = 12
)

// ErrCorruptSalt reports a stored salt of the wrong length. The sealed
// credential cannot be opened without the original salt, so it is never
// replaced automatically.
var ErrCorruptSalt = errors.New("credential salt is corrupt")

type sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// EncryptedStore persists the credential in a key/value store, sealed under a
// key derived with argon2id from the passphrase and a per-install salt.
type EncryptedStore struct {
	kv         storage.KV
	passphrase []byte
}

func NewEncryptedStore(kv storage.KV, passphrase string) (*EncryptedStore, error) {
	if passphrase == "" {
		return nil, errors.New("credential passphrase must not be empty")
	}
	return &EncryptedStore{kv: kv, passphrase: []byte(passphrase)}, nil
}

func (s *EncryptedStore) Get(ctx context.Context) (string, error) {
	raw, err := s.kv.Get(ctx, recordKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}

	var rec sealed
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}

	salt, err := s.kv.Get(ctx, saltKey)
	if err != nil {
		return "", fmt.Errorf("read credential salt: %w", err)
	}
	if len(salt) != saltSize {
		return "", fmt.Errorf("%w: %d bytes", ErrCorruptSalt, len(salt))
	}

	plaintext, err := decrypt(rec, deriveKey(s.passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return string(plaintext), nil
}

// Set seals and stores value. A blank value deletes the credential.
func (s *EncryptedStore) Set(ctx context.Context, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return s.Delete(ctx)
	}

	salt, err := s.salt(ctx)
	if err != nil {
		return err
	}

	rec, err := encrypt([]byte(value), deriveKey(s.passphrase, salt))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	return s.kv.Set(ctx, recordKey, raw)
}

func (s *EncryptedStore) Delete(ctx context.Context) error {
	return s.kv.Delete(ctx, recordKey)
}

// salt returns the install salt, creating it on first use.
func (s *EncryptedStore) salt(ctx context.Context) ([]byte, error) {
	salt, err := s.kv.Get(ctx, saltKey)
	switch {
	case err == nil && len(salt) == saltSize:
		return salt, nil
	case err == nil:
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptSalt, len(salt))
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("read credential salt: %w", err)
	}

	salt = make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := s.kv.Set(ctx, saltKey, salt); err != nil {
		return nil, fmt.Errorf("store salt: %w", err)
	}
	return salt, nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

func encrypt(plaintext, key []byte) (sealed, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return sealed{}, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return sealed{}, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return sealed{}, err
	}

	return sealed{Nonce: nonce, Ciphertext: aesgcm.Seal(nil, nonce, plaintext, nil)}, nil
}

func decrypt(rec sealed, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(rec.Nonce) != aesgcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	return aesgcm.Open(nil, rec.Nonce, rec.Ciphertext, nil)
}
