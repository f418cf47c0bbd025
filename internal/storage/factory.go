package storage

import "fmt"

// NewStore builds a backend by kind. dsn is a file path for sqlite and a
// connection string for postgres.
func NewStore(kind, dsn string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case DriverSQLite:
		if dsn == "" {
			dsn = "neattrade.db"
		}
		return NewSQLStore(DriverSQLite, dsn), nil
	case DriverPostgres:
		return NewSQLStore(DriverPostgres, dsn), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
