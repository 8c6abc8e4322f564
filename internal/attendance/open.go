package attendance

import (
	"context"
	"fmt"

	"smartattend/internal/store"
)

// Backend is an opened Store with its lifecycle hooks.
type Backend struct {
	Store   Store
	Healthy func(ctx context.Context) bool
	Close   func() error
}

// Open builds the Store selected by driver: postgres or sqlite (migrated on
// open) or memory.
func Open(ctx context.Context, driver, connString string) (Backend, error) {
	if driver == "memory" {
		return Backend{
			Store:   NewMemoryStore(),
			Healthy: func(context.Context) bool { return true },
			Close:   func() error { return nil },
		}, nil
	}
	db, err := store.NewDB(store.Dialect(driver), connString)
	if err != nil {
		return Backend{}, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return Backend{}, fmt.Errorf("migrate: %w", err)
	}
	return Backend{Store: NewRepository(db), Healthy: db.Healthy, Close: db.Close}, nil
}
