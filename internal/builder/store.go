package builder

import "context"

// ItemStore persists items.
type ItemStore interface {
	CreateItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, id string) (Item, error)
	// UpdateItem replaces the stored item if its revision still equals
	// expectedRevision, and returns ErrConflict otherwise.
	UpdateItem(ctx context.Context, item Item, expectedRevision int64) error
	// DeleteItem removes the item and every result recorded against it.
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context, query ItemQuery) (ItemPage, error)
}

// ConfigurationStore persists configurations.
type ConfigurationStore interface {
	CreateConfiguration(ctx context.Context, cfg Configuration) error
	GetConfiguration(ctx context.Context, id string) (Configuration, error)
	// ListConfigurations returns every configuration ordered by title, then id.
	ListConfigurations(ctx context.Context) ([]Configuration, error)
	DeleteConfiguration(ctx context.Context, id string) error
	// ExistingConfigurations returns the subset of ids that resolve.
	ExistingConfigurations(ctx context.Context, ids []string) (map[string]bool, error)
}

// KnowledgeStore persists knowledge entries.
type KnowledgeStore interface {
	CreateKnowledge(ctx context.Context, entry KnowledgeEntry) error
	GetKnowledge(ctx context.Context, id string) (KnowledgeEntry, error)
	// ListKnowledge returns every entry ordered by title, then id.
	ListKnowledge(ctx context.Context) ([]KnowledgeEntry, error)
	DeleteKnowledge(ctx context.Context, id string) error
	// ExistingKnowledge returns the subset of ids that resolve.
	ExistingKnowledge(ctx context.Context, ids []string) (map[string]bool, error)
}

// ResultStore persists results.
type ResultStore interface {
	// CreateResult appends a result to an existing item. It returns
	// ErrNotFound when the item is missing, checked atomically with the
	// append so a concurrent delete never leaves results behind.
	CreateResult(ctx context.Context, result Result) error
	// ListResults returns the results of one item, oldest first.
	ListResults(ctx context.Context, itemID string) ([]Result, error)
}

// Store is the backing store of a Service. Missing records are reported
// with ErrNotFound.
type Store interface {
	ItemStore
	ConfigurationStore
	KnowledgeStore
	ResultStore
	Close() error
}
