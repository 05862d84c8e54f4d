// Package sqlite provides a SQLite-backed builder store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"calculogic/internal/builder"
	"calculogic/internal/storage/sqlite/migrations"
)

// ErrAlreadyExists indicates a record with the same id is already stored.
var ErrAlreadyExists = errors.New("record already exists")

// maxInParams bounds the ids bound into one IN list, well below SQLite's
// host parameter limit.
const maxInParams = 500

// Store persists builder state in SQLite.
type Store struct {
	sqlDB   *sql.DB
	applied []string
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	applied, err := applyMigrations(ctx, sqlDB, migrations.FS)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, applied: applied}, nil
}

// AppliedMigrations names the migrations Open applied to the database.
func (s *Store) AppliedMigrations() []string {
	return s.applied
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const itemColumns = `id, title, item_type, content, owner_id, status, settings, revision, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (builder.Item, error) {
	var (
		item      builder.Item
		itemType  string
		status    string
		settings  sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&itemType,
		&item.Content,
		&item.OwnerID,
		&status,
		&settings,
		&item.Revision,
		&createdAt,
		&updatedAt,
	); err != nil {
		return builder.Item{}, err
	}
	item.Type = builder.ItemType(itemType)
	item.Status = builder.Status(status)
	if settings.Valid {
		item.Settings = json.RawMessage(settings.String)
	}
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)
	item.ConfigIDs = []string{}
	item.KnowledgeIDs = []string{}
	item.Categories = []string{}
	return item, nil
}

func nullSettings(raw json.RawMessage) sql.NullString {
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// CreateItem inserts one item and its references.
func (s *Store) CreateItem(ctx context.Context, item builder.Item) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO items (
			   id, title, title_fold, item_type, content, owner_id, status,
			   settings, revision, created_at, updated_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.Title,
			builder.Fold(item.Title),
			string(item.Type),
			item.Content,
			item.OwnerID,
			string(item.Status),
			nullSettings(item.Settings),
			item.Revision,
			toMillis(item.CreatedAt),
			toMillis(item.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("create item %s: %w", item.ID, err)
		}
		return replaceItemRefs(ctx, tx, item)
	})
}

// GetItem returns one item by id.
func (s *Store) GetItem(ctx context.Context, id string) (builder.Item, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return builder.Item{}, builder.ErrNotFound
		}
		return builder.Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	items := []builder.Item{item}
	if err := s.attachItemRefs(ctx, items); err != nil {
		return builder.Item{}, err
	}
	return items[0], nil
}

// UpdateItem replaces an item whose stored revision equals expectedRevision.
func (s *Store) UpdateItem(ctx context.Context, item builder.Item, expectedRevision int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE items
			    SET title = ?, title_fold = ?, item_type = ?, content = ?, status = ?,
			        settings = ?, revision = ?, updated_at = ?
			  WHERE id = ? AND revision = ?`,
			item.Title,
			builder.Fold(item.Title),
			string(item.Type),
			item.Content,
			string(item.Status),
			nullSettings(item.Settings),
			item.Revision,
			toMillis(item.UpdatedAt),
			item.ID,
			expectedRevision,
		)
		if err != nil {
			return fmt.Errorf("update item %s: %w", item.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update item %s: %w", item.ID, err)
		}
		if n == 0 {
			var found int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM items WHERE id = ?`, item.ID).Scan(&found)
			if errors.Is(err, sql.ErrNoRows) {
				return builder.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("update item %s: %w", item.ID, err)
			}
			return builder.ErrConflict
		}
		return replaceItemRefs(ctx, tx, item)
	})
}

// DeleteItem removes an item, its references and its results.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete item %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("delete item %s: %w", id, err)
		} else if n == 0 {
			return builder.ErrNotFound
		}
		for _, refs := range itemRefTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+refs.table+` WHERE `+refs.owner+` = ?`, id); err != nil {
				return fmt.Errorf("delete item %s references: %w", id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE item_id = ?`, id); err != nil {
			return fmt.Errorf("delete item %s results: %w", id, err)
		}
		return nil
	})
}

// ListItems returns one page of matching items, most recently updated first.
func (s *Store) ListItems(ctx context.Context, query builder.ItemQuery) (builder.ItemPage, error) {
	var (
		conds []string
		args  []any
	)
	if query.Type != "" {
		conds = append(conds, "item_type = ?")
		args = append(args, string(query.Type))
	}
	if query.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, query.OwnerID)
	}
	if query.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(query.Status))
	}
	if query.SearchFold != "" {
		conds = append(conds, "instr(title_fold, ?) > 0")
		args = append(args, query.SearchFold)
	}
	if query.Category != "" {
		prefix := query.Category + builder.CategorySeparator
		conds = append(conds, `EXISTS (
		    SELECT 1 FROM item_categories c
		     WHERE c.item_id = items.id
		       AND (c.category = ? OR substr(c.category, 1, ?) = ?))`)
		args = append(args, query.Category, utf8.RuneCountInString(prefix), prefix)
	}
	if query.After != nil {
		after := toMillis(query.After.UpdatedAt)
		conds = append(conds, "(updated_at < ? OR (updated_at = ? AND id > ?))")
		args = append(args, after, after, query.After.ID)
	}

	stmt := `SELECT ` + itemColumns + ` FROM items`
	if len(conds) > 0 {
		stmt += ` WHERE ` + strings.Join(conds, " AND ")
	}
	stmt += ` ORDER BY updated_at DESC, id ASC`
	if query.PageSize > 0 {
		stmt += ` LIMIT ?`
		args = append(args, query.PageSize+1)
	}

	rows, err := s.sqlDB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return builder.ItemPage{}, fmt.Errorf("list items: %w", err)
	}
	items := []builder.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return builder.ItemPage{}, fmt.Errorf("list items: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return builder.ItemPage{}, fmt.Errorf("list items: %w", err)
	}
	rows.Close()

	page := builder.ItemPage{Items: items}
	if query.PageSize > 0 && len(items) > query.PageSize {
		last := builder.PositionOf(items[query.PageSize-1])
		page.Items = items[:query.PageSize]
		page.Next = &last
	}

	if err := s.attachItemRefs(ctx, page.Items); err != nil {
		return builder.ItemPage{}, err
	}
	return page, nil
}

// refTable is an ordered list of values owned by a record, one row per value.
type refTable struct {
	table  string
	owner  string
	column string
}

var (
	configRefs       = refTable{table: "item_configurations", owner: "item_id", column: "config_id"}
	knowledgeRefs    = refTable{table: "item_knowledge", owner: "item_id", column: "knowledge_id"}
	itemCategories   = refTable{table: "item_categories", owner: "item_id", column: "category"}
	configCategories = refTable{table: "configuration_categories", owner: "config_id", column: "category"}
	itemRefTables    = []refTable{configRefs, knowledgeRefs, itemCategories}
)

// load returns the ordered values of the given owners.
func (r refTable) load(ctx context.Context, sqlDB *sql.DB, ownerIDs []string) (map[string][]string, error) {
	refs := make(map[string][]string, len(ownerIDs))
	for chunk := range slices.Chunk(ownerIDs, maxInParams) {
		rows, err := sqlDB.QueryContext(ctx,
			`SELECT `+r.owner+`, `+r.column+` FROM `+r.table+`
			  WHERE `+r.owner+` IN (`+placeholders(len(chunk))+`)
			  ORDER BY `+r.owner+`, position`,
			anyArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", r.table, err)
		}
		for rows.Next() {
			var owner, value string
			if err := rows.Scan(&owner, &value); err != nil {
				rows.Close()
				return nil, fmt.Errorf("load %s: %w", r.table, err)
			}
			refs[owner] = append(refs[owner], value)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", r.table, err)
		}
	}
	return refs, nil
}

// replace swaps the values of one owner for values.
func (r refTable) replace(ctx context.Context, tx *sql.Tx, ownerID string, values []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+r.table+` WHERE `+r.owner+` = ?`, ownerID); err != nil {
		return fmt.Errorf("clear %s of %s: %w", r.table, ownerID, err)
	}
	for i, value := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+r.table+` (`+r.owner+`, `+r.column+`, position) VALUES (?, ?, ?)`,
			ownerID, value, i,
		); err != nil {
			return fmt.Errorf("store %s of %s: %w", r.table, ownerID, err)
		}
	}
	return nil
}

func replaceItemRefs(ctx context.Context, tx *sql.Tx, item builder.Item) error {
	if err := configRefs.replace(ctx, tx, item.ID, item.ConfigIDs); err != nil {
		return err
	}
	if err := knowledgeRefs.replace(ctx, tx, item.ID, item.KnowledgeIDs); err != nil {
		return err
	}
	return itemCategories.replace(ctx, tx, item.ID, item.Categories)
}

// attachItemRefs fills the reference lists of items in place.
func (s *Store) attachItemRefs(ctx context.Context, items []builder.Item) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	for _, refs := range itemRefTables {
		values, err := refs.load(ctx, s.sqlDB, ids)
		if err != nil {
			return err
		}
		for i := range items {
			got, ok := values[items[i].ID]
			if !ok {
				continue
			}
			switch refs {
			case configRefs:
				items[i].ConfigIDs = got
			case knowledgeRefs:
				items[i].KnowledgeIDs = got
			case itemCategories:
				items[i].Categories = got
			}
		}
	}
	return nil
}

// CreateConfiguration inserts one configuration and its categories.
func (s *Store) CreateConfiguration(ctx context.Context, cfg builder.Configuration) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO configurations (id, title, document, owner_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			cfg.ID,
			cfg.Title,
			string(cfg.Document),
			cfg.OwnerID,
			toMillis(cfg.CreatedAt),
			toMillis(cfg.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("create configuration %s: %w", cfg.ID, err)
		}
		return configCategories.replace(ctx, tx, cfg.ID, cfg.Categories)
	})
}

const configColumns = `id, title, document, owner_id, created_at, updated_at`

func scanConfiguration(row scanner) (builder.Configuration, error) {
	var (
		cfg       builder.Configuration
		document  string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&cfg.ID, &cfg.Title, &document, &cfg.OwnerID, &createdAt, &updatedAt); err != nil {
		return builder.Configuration{}, err
	}
	cfg.Document = json.RawMessage(document)
	cfg.Categories = []string{}
	cfg.CreatedAt = fromMillis(createdAt)
	cfg.UpdatedAt = fromMillis(updatedAt)
	return cfg, nil
}

// GetConfiguration returns one configuration by id.
func (s *Store) GetConfiguration(ctx context.Context, id string) (builder.Configuration, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+configColumns+` FROM configurations WHERE id = ?`, id)
	cfg, err := scanConfiguration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return builder.Configuration{}, builder.ErrNotFound
		}
		return builder.Configuration{}, fmt.Errorf("get configuration %s: %w", id, err)
	}
	cfgs := []builder.Configuration{cfg}
	if err := s.attachConfigCategories(ctx, cfgs); err != nil {
		return builder.Configuration{}, err
	}
	return cfgs[0], nil
}

// ListConfigurations returns every configuration ordered by title, then id.
func (s *Store) ListConfigurations(ctx context.Context) ([]builder.Configuration, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+configColumns+` FROM configurations ORDER BY title ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer rows.Close()
	cfgs := []builder.Configuration{}
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("list configurations: %w", err)
		}
		cfgs = append(cfgs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	rows.Close()
	if err := s.attachConfigCategories(ctx, cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

func (s *Store) attachConfigCategories(ctx context.Context, cfgs []builder.Configuration) error {
	ids := make([]string, len(cfgs))
	for i, cfg := range cfgs {
		ids[i] = cfg.ID
	}
	cats, err := configCategories.load(ctx, s.sqlDB, ids)
	if err != nil {
		return err
	}
	for i := range cfgs {
		if got, ok := cats[cfgs[i].ID]; ok {
			cfgs[i].Categories = got
		}
	}
	return nil
}

// DeleteConfiguration removes one configuration. References held by items
// are left for the service to prune when those items are saved.
func (s *Store) DeleteConfiguration(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteByID(ctx, tx, "configurations", id); err != nil {
			return err
		}
		return configCategories.replace(ctx, tx, id, nil)
	})
}

// ExistingConfigurations returns the subset of ids that name a stored
// configuration.
func (s *Store) ExistingConfigurations(ctx context.Context, ids []string) (map[string]bool, error) {
	return s.existing(ctx, "configurations", ids)
}

// CreateKnowledge inserts one knowledge entry.
func (s *Store) CreateKnowledge(ctx context.Context, entry builder.KnowledgeEntry) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO knowledge (id, title, content, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Title,
		entry.Content,
		entry.OwnerID,
		toMillis(entry.CreatedAt),
		toMillis(entry.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create knowledge entry %s: %w", entry.ID, err)
	}
	return nil
}

const knowledgeColumns = `id, title, content, owner_id, created_at, updated_at`

func scanKnowledge(row scanner) (builder.KnowledgeEntry, error) {
	var (
		entry     builder.KnowledgeEntry
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&entry.ID, &entry.Title, &entry.Content, &entry.OwnerID, &createdAt, &updatedAt); err != nil {
		return builder.KnowledgeEntry{}, err
	}
	entry.CreatedAt = fromMillis(createdAt)
	entry.UpdatedAt = fromMillis(updatedAt)
	return entry, nil
}

// GetKnowledge returns one knowledge entry by id.
func (s *Store) GetKnowledge(ctx context.Context, id string) (builder.KnowledgeEntry, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge WHERE id = ?`, id)
	entry, err := scanKnowledge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return builder.KnowledgeEntry{}, builder.ErrNotFound
		}
		return builder.KnowledgeEntry{}, fmt.Errorf("get knowledge entry %s: %w", id, err)
	}
	return entry, nil
}

// ListKnowledge returns every knowledge entry ordered by title, then id.
func (s *Store) ListKnowledge(ctx context.Context) ([]builder.KnowledgeEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge ORDER BY title ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge entries: %w", err)
	}
	defer rows.Close()
	entries := []builder.KnowledgeEntry{}
	for rows.Next() {
		entry, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("list knowledge entries: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list knowledge entries: %w", err)
	}
	return entries, nil
}

// DeleteKnowledge removes one knowledge entry. References held by items are
// left for the service to prune when those items are saved.
func (s *Store) DeleteKnowledge(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "knowledge", id)
	})
}

// ExistingKnowledge returns the subset of ids that name a stored knowledge
// entry.
func (s *Store) ExistingKnowledge(ctx context.Context, ids []string) (map[string]bool, error) {
	return s.existing(ctx, "knowledge", ids)
}

func deleteByID(ctx context.Context, tx *sql.Tx, table, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	if n == 0 {
		return builder.ErrNotFound
	}
	return nil
}

// existing returns the subset of ids present in table, querying in chunks
// so any number of ids fits SQLite's parameter limit.
func (s *Store) existing(ctx context.Context, table string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	for chunk := range slices.Chunk(ids, maxInParams) {
		rows, err := s.sqlDB.QueryContext(ctx,
			`SELECT id FROM `+table+` WHERE id IN (`+placeholders(len(chunk))+`)`, anyArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", table, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("check %s: %w", table, err)
			}
			found[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", table, err)
		}
	}
	return found, nil
}

// CreateResult inserts one result row if its item exists. The existence
// check and the insert are one statement.
func (s *Store) CreateResult(ctx context.Context, result builder.Result) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO results (id, item_id, user_inputs, computed_outputs, submitted_by, created_at)
		 SELECT ?, ?, ?, ?, ?, ?
		  WHERE EXISTS (SELECT 1 FROM items WHERE id = ?)`,
		result.ID,
		result.ItemID,
		string(result.UserInputs),
		string(result.ComputedOutputs),
		result.SubmittedBy,
		toMillis(result.CreatedAt),
		result.ItemID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create result %s: %w", result.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create result %s: %w", result.ID, err)
	}
	if n == 0 {
		return builder.ErrNotFound
	}
	return nil
}

// ListResults returns the results of one item, oldest first.
func (s *Store) ListResults(ctx context.Context, itemID string) ([]builder.Result, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, item_id, user_inputs, computed_outputs, submitted_by, created_at
		   FROM results
		  WHERE item_id = ?
		  ORDER BY created_at ASC, rowid ASC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results %s: %w", itemID, err)
	}
	defer rows.Close()
	results := []builder.Result{}
	for rows.Next() {
		var (
			result    builder.Result
			inputs    string
			outputs   string
			createdAt int64
		)
		if err := rows.Scan(&result.ID, &result.ItemID, &inputs, &outputs, &result.SubmittedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("list results %s: %w", itemID, err)
		}
		result.UserInputs = json.RawMessage(inputs)
		result.ComputedOutputs = json.RawMessage(outputs)
		result.CreatedAt = fromMillis(createdAt)
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results %s: %w", itemID, err)
	}
	return results, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func anyArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ builder.Store = (*Store)(nil)
