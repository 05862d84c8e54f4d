// Package redisstore provides builder persistence in Redis.
//
// Every record is one JSON value. Set indexes track all items, items per
// type, items per owner and items per category path; results are an
// append-only list per item.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"calculogic/internal/builder"
)

const (
	itemsKey     = "items"
	configsKey   = "configs"
	knowledgeKey = "knowledge"
)

func itemKey(id string) string           { return "item:" + id }
func typeKey(t builder.ItemType) string  { return "items:type:" + string(t) }
func ownerKey(owner string) string       { return "items:owner:" + owner }
func categoryKey(path string) string     { return "items:category:" + path }
func configKey(id string) string         { return "config:" + id }
func knowledgeEntryKey(id string) string { return "knowledge:" + id }
func resultsKey(itemID string) string    { return "results:" + itemID }

// maxTxAttempts bounds how often a transaction that lost a WATCH race is
// retried.
const maxTxAttempts = 5

// categorySets returns the category index keys an item with categories
// belongs to. An item is indexed under every ancestor of its categories so
// one set answers a subtree query.
func categorySets(categories []string) map[string]bool {
	sets := make(map[string]bool)
	for _, c := range categories {
		for _, path := range builder.CategoryAncestors(c) {
			sets[categoryKey(path)] = true
		}
	}
	return sets
}

// Store provides builder persistence in Redis.
type Store struct {
	client *redis.Client
}

// New creates a Store using client. Closing the Store closes the client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// CreateItem stores a new item and indexes it.
func (s *Store) CreateItem(ctx context.Context, item builder.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, itemKey(item.ID), data, 0)
		pipe.SAdd(ctx, itemsKey, item.ID)
		pipe.SAdd(ctx, typeKey(item.Type), item.ID)
		pipe.SAdd(ctx, ownerKey(item.OwnerID), item.ID)
		for key := range categorySets(item.Categories) {
			pipe.SAdd(ctx, key, item.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create item %s: %w", item.ID, err)
	}
	return nil
}

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, id string) (builder.Item, error) {
	return getItem(ctx, s.client, id)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getItem(ctx context.Context, c getter, id string) (builder.Item, error) {
	return getRecord[builder.Item](ctx, c, itemKey(id))
}

// UpdateItem replaces an item if its stored revision equals
// expectedRevision. The check and the write run under WATCH so a concurrent
// writer makes the transaction fail with builder.ErrConflict.
func (s *Store) UpdateItem(ctx context.Context, item builder.Item, expectedRevision int64) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	key := itemKey(item.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := getItem(ctx, tx, item.ID)
		if err != nil {
			return err
		}
		if current.Revision != expectedRevision {
			return builder.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if current.Type != item.Type {
				pipe.SRem(ctx, typeKey(current.Type), item.ID)
				pipe.SAdd(ctx, typeKey(item.Type), item.ID)
			}
			was, now := categorySets(current.Categories), categorySets(item.Categories)
			for key := range was {
				if !now[key] {
					pipe.SRem(ctx, key, item.ID)
				}
			}
			for key := range now {
				if !was[key] {
					pipe.SAdd(ctx, key, item.ID)
				}
			}
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return builder.ErrConflict
	case errors.Is(err, builder.ErrNotFound), errors.Is(err, builder.ErrConflict):
		return err
	}
	return fmt.Errorf("update item %s: %w", item.ID, err)
}

// DeleteItem removes an item, its index entries and its results. The stored
// record tells which indexes to clean up, so it is read under WATCH.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	key := itemKey(id)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		item, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, resultsKey(id))
			pipe.SRem(ctx, itemsKey, id)
			pipe.SRem(ctx, typeKey(item.Type), id)
			pipe.SRem(ctx, ownerKey(item.OwnerID), id)
			for set := range categorySets(item.Categories) {
				pipe.SRem(ctx, set, id)
			}
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, builder.ErrNotFound) {
		return fmt.Errorf("delete item %s: %w", id, err)
	}
	return err
}

// watch runs fn under WATCH keys and retries it while a watched key changes
// before EXEC.
func (s *Store) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

// ListItems returns one page of matching items in list order. Candidates come
// from the narrowest index set; the remaining restrictions are applied in
// memory.
func (s *Store) ListItems(ctx context.Context, query builder.ItemQuery) (builder.ItemPage, error) {
	var sets []string
	if query.OwnerID != "" {
		sets = append(sets, ownerKey(query.OwnerID))
	}
	if query.Type != "" {
		sets = append(sets, typeKey(query.Type))
	}
	if query.Category != "" {
		sets = append(sets, categoryKey(query.Category))
	}

	var (
		ids []string
		err error
	)
	switch len(sets) {
	case 0:
		ids, err = s.client.SMembers(ctx, itemsKey).Result()
	case 1:
		ids, err = s.client.SMembers(ctx, sets[0]).Result()
	default:
		ids, err = s.client.SInter(ctx, sets...).Result()
	}
	if err != nil {
		return builder.ItemPage{}, fmt.Errorf("list item ids: %w", err)
	}
	if len(ids) == 0 {
		return builder.ItemPage{Items: []builder.Item{}}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, itemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return builder.ItemPage{}, fmt.Errorf("load items: %w", err)
	}
	items := make([]builder.Item, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return builder.ItemPage{}, fmt.Errorf("load items: %w", err)
		}
		var item builder.Item
		if err := json.Unmarshal(data, &item); err != nil {
			return builder.ItemPage{}, fmt.Errorf("decode item: %w", err)
		}
		if query.Match(item) {
			items = append(items, item)
		}
	}
	builder.SortItems(items)
	return query.Paginate(items), nil
}

// CreateConfiguration stores a new configuration.
func (s *Store) CreateConfiguration(ctx context.Context, cfg builder.Configuration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, configKey(cfg.ID), data, 0)
		pipe.SAdd(ctx, configsKey, cfg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create configuration %s: %w", cfg.ID, err)
	}
	return nil
}

// GetConfiguration retrieves a configuration by ID.
func (s *Store) GetConfiguration(ctx context.Context, id string) (builder.Configuration, error) {
	return getRecord[builder.Configuration](ctx, s.client, configKey(id))
}

// ListConfigurations returns every configuration ordered by title, then id.
func (s *Store) ListConfigurations(ctx context.Context) ([]builder.Configuration, error) {
	cfgs, err := listRecords[builder.Configuration](ctx, s.client, configsKey, configKey)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	sort.Slice(cfgs, func(i, j int) bool {
		if cfgs[i].Title != cfgs[j].Title {
			return cfgs[i].Title < cfgs[j].Title
		}
		return cfgs[i].ID < cfgs[j].ID
	})
	return cfgs, nil
}

// DeleteConfiguration removes a configuration by ID.
func (s *Store) DeleteConfiguration(ctx context.Context, id string) error {
	return s.deleteRecord(ctx, configsKey, configKey(id), id)
}

// ExistingConfigurations returns the subset of ids that name a stored
// configuration.
func (s *Store) ExistingConfigurations(ctx context.Context, ids []string) (map[string]bool, error) {
	found, err := s.members(ctx, configsKey, ids)
	if err != nil {
		return nil, fmt.Errorf("check configurations: %w", err)
	}
	return found, nil
}

// CreateKnowledge stores a new knowledge entry.
func (s *Store) CreateKnowledge(ctx context.Context, entry builder.KnowledgeEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal knowledge entry: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, knowledgeEntryKey(entry.ID), data, 0)
		pipe.SAdd(ctx, knowledgeKey, entry.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create knowledge entry %s: %w", entry.ID, err)
	}
	return nil
}

// GetKnowledge retrieves a knowledge entry by ID.
func (s *Store) GetKnowledge(ctx context.Context, id string) (builder.KnowledgeEntry, error) {
	return getRecord[builder.KnowledgeEntry](ctx, s.client, knowledgeEntryKey(id))
}

// ListKnowledge returns every knowledge entry ordered by title, then id.
func (s *Store) ListKnowledge(ctx context.Context) ([]builder.KnowledgeEntry, error) {
	entries, err := listRecords[builder.KnowledgeEntry](ctx, s.client, knowledgeKey, knowledgeEntryKey)
	if err != nil {
		return nil, fmt.Errorf("list knowledge entries: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Title != entries[j].Title {
			return entries[i].Title < entries[j].Title
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// DeleteKnowledge removes a knowledge entry by ID.
func (s *Store) DeleteKnowledge(ctx context.Context, id string) error {
	return s.deleteRecord(ctx, knowledgeKey, knowledgeEntryKey(id), id)
}

// ExistingKnowledge returns the subset of ids that name a stored knowledge
// entry.
func (s *Store) ExistingKnowledge(ctx context.Context, ids []string) (map[string]bool, error) {
	found, err := s.members(ctx, knowledgeKey, ids)
	if err != nil {
		return nil, fmt.Errorf("check knowledge entries: %w", err)
	}
	return found, nil
}

func getRecord[T any](ctx context.Context, c getter, key string) (T, error) {
	var rec T
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return rec, builder.ErrNotFound
		}
		return rec, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

// listRecords loads every record whose id is a member of set.
func listRecords[T any](ctx context.Context, client *redis.Client, set string, key func(string) string) ([]T, error) {
	ids, err := client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, err
	}
	recs := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return recs, nil
	}
	pipe := client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		var rec T
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", cmd.Args()[1], err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (s *Store) deleteRecord(ctx context.Context, set, key, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, key)
		pipe.SRem(ctx, set, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if del.Val() == 0 {
		return builder.ErrNotFound
	}
	return nil
}

// members reports which ids belong to set.
func (s *Store) members(ctx context.Context, set string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.SIsMember(ctx, set, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	for i, cmd := range cmds {
		if cmd.Val() {
			found[ids[i]] = true
		}
	}
	return found, nil
}

// CreateResult appends a result to its item's result list. The item is
// watched while its existence is checked, so a concurrent DeleteItem either
// runs first and the append is refused, or runs after and removes the list.
func (s *Store) CreateResult(ctx context.Context, result builder.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := itemKey(result.ItemID)
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return builder.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, resultsKey(result.ItemID), data)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, builder.ErrNotFound) {
		return fmt.Errorf("create result %s: %w", result.ID, err)
	}
	return err
}

// ListResults returns the results of one item, oldest first.
func (s *Store) ListResults(ctx context.Context, itemID string) ([]builder.Result, error) {
	rows, err := s.client.LRange(ctx, resultsKey(itemID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list results %s: %w", itemID, err)
	}
	results := make([]builder.Result, 0, len(rows))
	for _, row := range rows {
		var result builder.Result
		if err := json.Unmarshal([]byte(row), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		results = append(results, result)
	}
	return results, nil
}

var _ builder.Store = (*Store)(nil)
