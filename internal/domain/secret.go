package domain

// KeyStorage says where a stored secret lives.
type KeyStorage string

const (
	StorageKeychain KeyStorage = "keychain"
	StorageFallback KeyStorage = "fallback"
	StorageBoth     KeyStorage = "both"
)

// StoredKeyInfo describes a stored secret without exposing its value.
type StoredKeyInfo struct {
	Name     string     `json:"name"`
	Storage  KeyStorage `json:"storage"`
	HasValue bool       `json:"hasValue"`
}

// SecretStore is encrypted-at-rest secret storage. GetKey returns ok=false
// when the key does not exist; err is reserved for storage failures.
type SecretStore interface {
	SetKey(name, value string) error
	GetKey(name string) (value string, ok bool, err error)
	DeleteKey(name string) error
	ListKeys() ([]StoredKeyInfo, error)
	ClearAllKeys() error
}
