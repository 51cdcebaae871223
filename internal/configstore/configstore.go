// Package configstore implements C3: a system-wide key/value store with
// encrypted and plaintext entries, built on top of internal/store and
// internal/crypto.
package configstore

import (
	"encoding/base64"

	"gorm.io/gorm"

	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

type Store struct {
	db     *store.Manager
	sealer *crypto.Sealer
}

func New(db *store.Manager, sealer *crypto.Sealer) *Store {
	return &Store{db: db, sealer: sealer}
}

// Well-known keys used by the core (spec §4.3).
const (
	KeyAppMode            = "app_mode"
	KeyEncryptionSalt      = "encryption_salt"
	KeyLocalAdminEmail     = "local_admin_email"
	KeyWorkOSClientID      = "workos_client_id"
	KeyWorkOSAPIKey        = "workos_api_key"
	KeyWorkOSAuthKitDomain = "workos_authkit_domain"
	KeyWorkOSSuperAdmins   = "workos_super_admins"
	KeyBindHost            = "bind_host"
	KeyBindPort            = "bind_port"
	KeyDatabasePath        = "database_path"
	KeyHubBaseURL          = "hub_base_url"
)

// Get returns a key's value, decrypting it transparently if it was
// written encrypted. Returns ("", false, nil) when the key is unset.
func (s *Store) Get(key string) (string, bool, error) {
	entry, err := s.db.GetConfigEntry(key)
	if err != nil {
		return "", false, err
	}
	if entry == nil {
		return "", false, nil
	}
	if !entry.Encrypted {
		return entry.Value, true, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(entry.Value)
	if err != nil {
		return "", false, err
	}
	plaintext, err := s.sealer.Open(ciphertext)
	if err != nil {
		return "", false, err
	}
	return string(plaintext), true, nil
}

// Set writes a key, sealing the value first when encrypted is true.
func (s *Store) Set(key, value string, encrypted bool) error {
	if !encrypted {
		return s.db.SetConfigEntry(key, value, false)
	}
	ciphertext, err := s.sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	return s.db.SetConfigEntry(key, base64.StdEncoding.EncodeToString(ciphertext), true)
}

// SetTx is Set run against an externally managed transaction, so a
// caller staging several related keys can commit or roll them all back
// together.
func (s *Store) SetTx(tx *gorm.DB, key, value string, encrypted bool) error {
	if !encrypted {
		return s.db.SetConfigEntryTx(tx, key, value, false)
	}
	ciphertext, err := s.sealer.Seal([]byte(value))
	if err != nil {
		return err
	}
	return s.db.SetConfigEntryTx(tx, key, base64.StdEncoding.EncodeToString(ciphertext), true)
}

// DB exposes the underlying store.Manager for callers (internal/mode)
// that need to open their own transaction spanning multiple SetTx calls
// plus a mode flip.
func (s *Store) DB() *store.Manager {
	return s.db
}
