package rescache

import "context"

// Backend persists cache entries grouped by generation. Every write replaces
// whole entries.
type Backend interface {
	// PutAll stores entries under generation. Either all entries are
	// stored or the call fails.
	PutAll(ctx context.Context, generation string, entries []Entry) error
	// Match returns the entry for key, or ErrCacheMiss.
	Match(ctx context.Context, generation, key string) (Entry, error)
	// Generations lists every generation holding at least one entry.
	Generations(ctx context.Context) ([]string, error)
	// DeleteGeneration removes every entry of generation.
	DeleteGeneration(ctx context.Context, generation string) error
	// SetActive records generation as the activated one. It survives
	// restarts.
	SetActive(ctx context.Context, generation string) error
	// Active returns the activated generation, or "" when none was.
	Active(ctx context.Context) (string, error)
}
