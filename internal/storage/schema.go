// Package storage provides the embedded, versioned record store backed by SQLite.
package storage

import (
	"fmt"
	"strings"
)

// CollectionName identifies a collection (a "store") inside the database.
type CollectionName string

// Known collections.
const (
	CollectionResults       CollectionName = "assessmentResults"
	CollectionCurrentResult CollectionName = "currentResult"
	CollectionChatQueue     CollectionName = "chatQueue"
	CollectionUserDataQueue CollectionName = "userDataQueue"
)

// CurrentResultID is the id under which the current result singleton is stored.
const CurrentResultID = "current"

// Kind selects the primary key shape of a collection.
type Kind int

const (
	// KindRecord collections are keyed by a caller supplied string id.
	KindRecord Kind = iota
	// KindQueue collections are keyed by an auto-incrementing integer id.
	KindQueue
)

// Index is a secondary, non-unique index over a record collection.
type Index string

const (
	IndexTimestamp Index = "timestamp"
	IndexCategory  Index = "category"
)

// Schema describes one collection and the schema version that introduced it.
type Schema struct {
	Name      CollectionName
	Kind      Kind
	Indexes   []Index
	Since     int
	Dedupable bool
}

// CurrentVersion is the newest schema version known to this build.
const CurrentVersion = 2

// Schemas lists every collection in the order it is created.
var Schemas = []Schema{
	{
		Name:      CollectionResults,
		Kind:      KindRecord,
		Indexes:   []Index{IndexTimestamp, IndexCategory},
		Since:     1,
		Dedupable: true,
	},
	{
		Name:  CollectionCurrentResult,
		Kind:  KindRecord,
		Since: 1,
	},
	{
		Name:  CollectionChatQueue,
		Kind:  KindQueue,
		Since: 2,
	},
	{
		Name:  CollectionUserDataQueue,
		Kind:  KindQueue,
		Since: 2,
	},
}

// SchemaFor returns the schema registered under name.
func SchemaFor(name CollectionName) (Schema, bool) {
	for _, s := range Schemas {
		if s.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// ParseCollectionName validates a collection name coming from outside the process.
func ParseCollectionName(raw string) (CollectionName, error) {
	if s, ok := SchemaFor(CollectionName(strings.TrimSpace(raw))); ok {
		return s.Name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCollection, raw)
}

// metaSchema holds bookkeeping tables that exist at every version.
const metaSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fallback_mirror (
	collection TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
`

// ddl returns the statements that create the collection and its indexes.
func (s Schema) ddl() string {
	var b strings.Builder
	table := quoteIdent(string(s.Name))

	switch s.Kind {
	case KindQueue:
		fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL,
	component_type TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL,
	enqueued_at TEXT NOT NULL
);
`, table)
	default:
		fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL
);
`, table)
	}

	for _, idx := range s.Indexes {
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS %s ON %s(%s);\n",
			quoteIdent(fmt.Sprintf("idx_%s_%s", s.Name, idx)), table, string(idx))
	}
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
