package security

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/evdnx/golog"
	"github.com/kylerberry/JACT/internal/logutil"
)

const credentialSalt = "jact-credential-store"

// ExchangeCredentials are the API credentials for one exchange account.
type ExchangeCredentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Complete reports whether every field is set.
func (c ExchangeCredentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.Passphrase != ""
}

// CredentialStore keeps named secrets encrypted at rest. Values are sealed
// individually and the whole file is sealed again on save.
type CredentialStore struct {
	mu      sync.RWMutex
	sealer  *sealer
	entries map[string]string
	path    string
	logger  *golog.Logger
}

type storeFile struct {
	Timestamp int64             `json:"timestamp"`
	Keys      map[string]string `json:"keys"`
}

// NewCredentialStore opens the store at path using the master secret held
// in the masterKeyEnv environment variable.
func NewCredentialStore(masterKeyEnv, path string) (*CredentialStore, error) {
	master := os.Getenv(masterKeyEnv)
	if master == "" {
		return nil, fmt.Errorf("master key environment variable %s not set", masterKeyEnv)
	}
	return OpenCredentialStore(master, path)
}

// OpenCredentialStore opens the store at path with an explicit master secret.
func OpenCredentialStore(master, path string) (*CredentialStore, error) {
	s, err := newSealer(master, credentialSalt)
	if err != nil {
		return nil, err
	}
	store := &CredentialStore{
		sealer:  s,
		entries: make(map[string]string),
		path:    path,
		logger:  logutil.Default(),
	}
	if _, err := os.Stat(path); err == nil {
		if err := store.load(); err != nil {
			return nil, fmt.Errorf("failed to load credential store: %w", err)
		}
	}
	return store, nil
}

// Set stores value under name and persists the store.
func (s *CredentialStore) Set(name, value string) error {
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", name, err)
	}
	s.mu.Lock()
	s.entries[name] = sealed
	s.mu.Unlock()
	return s.save()
}

// Get returns the decrypted value stored under name.
func (s *CredentialStore) Get(name string) (string, error) {
	s.mu.RLock()
	sealed, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("credential %s not found", name)
	}
	value, err := s.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt %s: %w", name, err)
	}
	return value, nil
}

// Delete removes name and persists the store.
func (s *CredentialStore) Delete(name string) error {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
	return s.save()
}

// Rotate replaces an existing value.
func (s *CredentialStore) Rotate(name, value string) error {
	s.mu.RLock()
	_, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("credential %s not found", name)
	}
	if err := s.Set(name, value); err != nil {
		return err
	}
	s.logger.Info("credential rotated",
		golog.String("component", "credential_store"),
		golog.String("name", name),
	)
	return nil
}

// Names lists stored names in order.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func exchangeKey(exchange, field string) string {
	return strings.ToLower(exchange) + "." + field
}

// StoreExchange saves creds under "<exchange>.apiKey", "<exchange>.apiSecret"
// and "<exchange>.passphrase".
func (s *CredentialStore) StoreExchange(exchange string, creds ExchangeCredentials) error {
	for field, value := range map[string]string{
		"apiKey":     creds.APIKey,
		"apiSecret":  creds.APISecret,
		"passphrase": creds.Passphrase,
	} {
		if err := s.Set(exchangeKey(exchange, field), value); err != nil {
			return err
		}
	}
	return nil
}

// Exchange loads the credentials saved by StoreExchange.
func (s *CredentialStore) Exchange(exchange string) (ExchangeCredentials, error) {
	var creds ExchangeCredentials
	var err error
	if creds.APIKey, err = s.Get(exchangeKey(exchange, "apiKey")); err != nil {
		return ExchangeCredentials{}, err
	}
	if creds.APISecret, err = s.Get(exchangeKey(exchange, "apiSecret")); err != nil {
		return ExchangeCredentials{}, err
	}
	if creds.Passphrase, err = s.Get(exchangeKey(exchange, "passphrase")); err != nil {
		return ExchangeCredentials{}, err
	}
	return creds, nil
}

func (s *CredentialStore) save() error {
	s.mu.RLock()
	data, err := json.Marshal(storeFile{Timestamp: time.Now().Unix(), Keys: s.entries})
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	sealed, err := s.sealer.Seal(string(data))
	if err != nil {
		return fmt.Errorf("failed to encrypt credential file: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(sealed), 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

func (s *CredentialStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}
	data, err := s.sealer.Open(string(raw))
	if err != nil {
		return fmt.Errorf("failed to decrypt credential file: %w", err)
	}
	var file storeFile
	if err := json.Unmarshal([]byte(data), &file); err != nil {
		return fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	s.mu.Lock()
	for k, v := range file.Keys {
		s.entries[k] = v
	}
	s.mu.Unlock()
	return nil
}
