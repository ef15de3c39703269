// Package capture persists captured stills together with the liveness verdict
// that allowed them. Records are encrypted at rest using NaCl secretbox.
package capture

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// Record is one captured still and the decision behind it.
type Record struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	CapturedAt time.Time         `json:"captured_at"`
	StoredAt   time.Time         `json:"stored_at"`
	State      string            `json:"state"`
	Message    string            `json:"message"`
	BPM        float64           `json:"bpm"`
	Image      []byte            `json:"image"` // JPEG
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ErrNotFound is returned when no record exists for an ID.
var ErrNotFound = errors.New("capture not found")

// ErrInvalidID is returned for IDs that are not UUIDs.
var ErrInvalidID = errors.New("invalid capture id")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// Store keeps one file per record in a directory.
type Store struct {
	dir               string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

// NewStore creates the directory if needed and derives the machine key when
// encryption is enabled.
func NewStore(dir string, encryptionEnabled bool) (*Store, error) {
	s := &Store{
		dir:               dir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		s.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create captures directory: %w", err)
	}

	return s, nil
}

// deriveKey derives an encryption key from machine-specific information so
// records only open on the machine that wrote them.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("pulsegate-capture-v1")

	return sha256.Sum256([]byte(identity.String()))
}

func (s *Store) path(id string) string {
	ext := ".json"
	if s.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(s.dir, id+ext)
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Save writes rec, assigning an ID and StoredAt when they are unset, and
// returns the ID.
func (s *Store) Save(rec Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if err := validateID(rec.ID); err != nil {
		return "", err
	}
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal capture: %w", err)
	}

	if s.encryptionEnabled {
		data, err = s.encrypt(data)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt capture: %w", err)
		}
	}

	if err := os.WriteFile(s.path(rec.ID), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write capture: %w", err)
	}

	logging.Component("capture").Debugf("Saved capture %s for session %s", rec.ID, rec.SessionID)
	return rec.ID, nil
}

// Load reads the record with the given ID.
func (s *Store) Load(id string) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}

	if s.encryptionEnabled {
		data, err = s.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt capture: %w", err)
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capture: %w", err)
	}
	return &rec, nil
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete capture: %w", err)
	}

	logging.Component("capture").Infof("Deleted capture %s", id)
	return nil
}

// List returns the IDs of all stored records in lexical order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		var id string
		switch {
		case strings.HasSuffix(name, ".json"):
			id = strings.TrimSuffix(name, ".json")
		case strings.HasSuffix(name, ".enc"):
			id = strings.TrimSuffix(name, ".enc")
		default:
			continue
		}
		if validateID(id) == nil {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// Exists reports whether a record with the given ID is stored.
func (s *Store) Exists(id string) bool {
	if validateID(id) != nil {
		return false
	}
	_, err := os.Stat(s.path(id))
	return err == nil
}

// encrypt encrypts data using NaCl secretbox.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (s *Store) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
