package credentials

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
)

// SecureStore persists an AuthState across client restarts. Implementations
// must keep the refresh token out of plain files.
type SecureStore interface {
	Save(state AuthState) error
	// Load returns the persisted state, or nil when nothing is stored.
	Load() (*AuthState, error)
	Clear() error
}

// KeyringStore keeps the serialized state in the operating system keychain
// (Keychain, Secret Service, or Credential Manager depending on platform).
type KeyringStore struct {
	service string
	account string
}

func NewKeyringStore(service, account string) *KeyringStore {
	return &KeyringStore{service: service, account: account}
}

func (k *KeyringStore) Save(state AuthState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "KeyringStore.Save Marshal")
	}
	if err := keyring.Set(k.service, k.account, string(payload)); err != nil {
		return errors.Wrap(err, "KeyringStore.Save Set")
	}
	return nil
}

func (k *KeyringStore) Load() (*AuthState, error) {
	payload, err := keyring.Get(k.service, k.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "KeyringStore.Load Get")
	}
	var state AuthState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		// Corrupt entry: treat as absent rather than wedging the client.
		return nil, nil
	}
	return &state, nil
}

func (k *KeyringStore) Clear() error {
	if err := keyring.Delete(k.service, k.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return errors.Wrap(err, "KeyringStore.Clear Delete")
	}
	return nil
}

// MemoryStore is an in-process SecureStore for tests and environments
// without a keychain.
type MemoryStore struct {
	state *AuthState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(state AuthState) error {
	clone := state
	m.state = &clone
	return nil
}

func (m *MemoryStore) Load() (*AuthState, error) {
	if m.state == nil {
		return nil, nil
	}
	clone := *m.state
	return &clone, nil
}

func (m *MemoryStore) Clear() error {
	m.state = nil
	return nil
}
