package storage

import "fmt"

// NewStore builds the checkpoint store for the requested backend. An
// empty kind falls back to the in-memory backend; "sqlite" needs a
// binary built with the sqlite tag.
func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	}
	return nil, fmt.Errorf("store kind %q: want memory or sqlite", kind)
}

// CloseIfSupported releases backends that hold external resources. The
// memory backend has nothing to close.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
