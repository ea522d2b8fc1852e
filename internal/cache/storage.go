package cache

// Storage persists deployment entries across host restarts. The cache is
// fully correct without one; implementations must discard entries already
// past their maximum age on load rather than promote them.
type Storage interface {
	Load(key Key) (*Entry, bool, error)
	Save(key Key, entry *Entry) error
	DeleteExpired() error
}
