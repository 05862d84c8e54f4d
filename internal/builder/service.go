package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"calculogic/internal/cursor"
)

// DefaultPageSize is the page size used when walking list sequences.
const DefaultPageSize = 50

// MaxPageSize bounds the page size a caller may request.
const MaxPageSize = 500

// Service implements every item, configuration, knowledge and result
// operation on top of a Store. It is safe for concurrent use when its Store is.
type Service struct {
	store    Store
	now      func() time.Time
	newID    func() string
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithPageSize sets the page size used to walk list sequences.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		now:      time.Now,
		newID:    uuid.NewString,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp returns the current time at the millisecond precision every
// store keeps.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Create stores a new draft item owned by the caller.
func (s *Service) Create(ctx context.Context, p Principal, title string, itemType ItemType) (Item, error) {
	if err := requireAuthenticated(p, "create item"); err != nil {
		return Item{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Item{}, validationf("title is required")
	}
	if !itemType.Valid() {
		return Item{}, validationf("unknown item type %q", itemType)
	}

	now := s.timestamp()
	item := Item{
		ID:           s.newID(),
		Title:        title,
		Type:         itemType,
		OwnerID:      p.UserID,
		ConfigIDs:    []string{},
		KnowledgeIDs: []string{},
		Categories:   []string{},
		Status:       StatusDraft,
		Revision:     1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateItem(ctx, item); err != nil {
		return Item{}, storeError("create item", err)
	}
	return item, nil
}

// Read returns one item the caller may see.
func (s *Service) Read(ctx context.Context, p Principal, id string) (Item, error) {
	return s.authorize(ctx, p, id, ActionRead)
}

// maxUpdateAttempts bounds how often Update re-reads an item that another
// writer changed between its read and its write.
const maxUpdateAttempts = 5

// Update applies fields to an item owned by the caller, or any item for an
// admin. Unknown configuration and knowledge ids are dropped. An update that
// changes nothing is not persisted.
//
// Without fields.IfRevision the last write wins: a concurrent change is
// merged by applying fields again on the fresh item. With it, any
// concurrent change fails the update with a conflict.
func (s *Service) Update(ctx context.Context, p Principal, id string, fields ItemFields) (Item, error) {
	for attempt := 1; ; attempt++ {
		item, err := s.update(ctx, p, id, fields)
		if err == nil || fields.IfRevision != 0 || attempt == maxUpdateAttempts || !errors.Is(err, ErrConflict) {
			return item, err
		}
	}
}

func (s *Service) update(ctx context.Context, p Principal, id string, fields ItemFields) (Item, error) {
	item, err := s.authorize(ctx, p, id, ActionUpdate)
	if err != nil {
		return Item{}, err
	}
	if fields.IfRevision != 0 && fields.IfRevision != item.Revision {
		return Item{}, &Error{Kind: KindConflict, Message: "item " + id + " was modified concurrently"}
	}

	next := item.clone()
	if fields.Title != nil {
		title := strings.TrimSpace(*fields.Title)
		if title == "" {
			return Item{}, validationf("title is required")
		}
		next.Title = title
	}
	if fields.Type != nil {
		if !fields.Type.Valid() {
			return Item{}, validationf("unknown item type %q", *fields.Type)
		}
		next.Type = *fields.Type
	}
	if fields.Content != nil {
		next.Content = *fields.Content
	}
	if fields.Status != nil {
		if !fields.Status.Valid() {
			return Item{}, validationf("unknown status %q", *fields.Status)
		}
		next.Status = *fields.Status
	}
	if fields.Settings != nil {
		settings, err := normalizeSettings(fields.Settings)
		if err != nil {
			return Item{}, err
		}
		next.Settings = settings
	}
	if fields.Categories != nil {
		if next.Categories, err = normalizeCategories(*fields.Categories); err != nil {
			return Item{}, err
		}
	}
	if fields.ConfigIDs != nil {
		next.ConfigIDs = *fields.ConfigIDs
	}
	if fields.KnowledgeIDs != nil {
		next.KnowledgeIDs = *fields.KnowledgeIDs
	}
	if err := s.resolveReferences(ctx, &next); err != nil {
		return Item{}, err
	}

	if sameContent(item, next) {
		return item, nil
	}
	next.Revision = item.Revision + 1
	next.UpdatedAt = s.timestamp()
	if err := s.store.UpdateItem(ctx, next, item.Revision); err != nil {
		return Item{}, storeError("update item", err)
	}
	return next, nil
}

// Duplicate copies an item owned by the caller into a new draft owned by the
// caller. Results are not copied.
func (s *Service) Duplicate(ctx context.Context, p Principal, id, newTitle string) (Item, error) {
	src, err := s.authorize(ctx, p, id, ActionDuplicate)
	if err != nil {
		return Item{}, err
	}
	if err := requireAuthenticated(p, "duplicate item"); err != nil {
		return Item{}, err
	}
	title := strings.TrimSpace(newTitle)
	if title == "" {
		return Item{}, validationf("title is required")
	}

	now := s.timestamp()
	dup := src.clone()
	if err := s.resolveReferences(ctx, &dup); err != nil {
		return Item{}, err
	}
	dup.ID = s.newID()
	dup.Title = title
	dup.OwnerID = p.UserID
	dup.Status = StatusDraft
	dup.Revision = 1
	dup.CreatedAt = now
	dup.UpdatedAt = now
	if err := s.store.CreateItem(ctx, dup); err != nil {
		return Item{}, storeError("duplicate item", err)
	}
	return dup, nil
}

// Delete permanently removes an item and its results.
func (s *Service) Delete(ctx context.Context, p Principal, id string) error {
	if _, err := s.authorize(ctx, p, id, ActionDelete); err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return storeError("delete item", err)
	}
	return nil
}

// ListQuery is the caller-facing list selection.
type ListQuery struct {
	Filter   string // "all", "calculator", "quiz" or "template"; empty means all
	Search   string // case-insensitive title substring
	Category string // category path; items in descendant categories match too
}

// List returns the items visible to the caller as a lazy sequence. Admins see
// every item, users their own items and anonymous callers published items.
// Each range over the sequence restarts from the first item.
func (s *Service) List(ctx context.Context, p Principal, q ListQuery) (iter.Seq2[Item, error], error) {
	base, err := itemQuery(p, q)
	if err != nil {
		return nil, err
	}
	return func(yield func(Item, error) bool) {
		query := base
		query.PageSize = s.pageSize
		for {
			page, err := s.store.ListItems(ctx, query)
			if err != nil {
				yield(Item{}, storeError("list items", err))
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
			if page.Next == nil {
				return
			}
			query.After = page.Next
		}
	}, nil
}

// Page is one page of a list together with the token of the next page.
type Page struct {
	Items         []Item `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// ListPage returns one page of the items List would yield. pageToken is the
// NextPageToken of the previous page, or empty for the first page.
func (s *Service) ListPage(ctx context.Context, p Principal, q ListQuery, pageSize int, pageToken string) (Page, error) {
	query, err := itemQuery(p, q)
	if err != nil {
		return Page{}, err
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	query.PageSize = min(pageSize, MaxPageSize)

	filterHash := cursor.HashFilter(string(query.Type), query.OwnerID, string(query.Status), query.SearchFold, query.Category)
	if pageToken = strings.TrimSpace(pageToken); pageToken != "" {
		c, err := cursor.Decode(pageToken)
		if err != nil {
			return Page{}, validationf("invalid page token: %v", err)
		}
		if c.FilterHash != filterHash {
			return Page{}, validationf("page token does not match the query")
		}
		query.After = &Position{UpdatedAt: time.UnixMilli(c.UpdatedAt).UTC(), ID: c.ID}
	}

	page, err := s.store.ListItems(ctx, query)
	if err != nil {
		return Page{}, storeError("list items", err)
	}
	out := Page{Items: page.Items}
	if out.Items == nil {
		out.Items = []Item{}
	}
	if page.Next != nil {
		token, err := cursor.Encode(cursor.Cursor{
			UpdatedAt:  page.Next.UpdatedAt.UnixMilli(),
			ID:         page.Next.ID,
			FilterHash: filterHash,
		})
		if err != nil {
			return Page{}, &Error{Kind: KindStorage, Message: "encode page token", Cause: err}
		}
		out.NextPageToken = token
	}
	return out, nil
}

// Summary counts the items visible to the caller.
func (s *Service) Summary(ctx context.Context, p Principal) (Summary, error) {
	seq, err := s.List(ctx, p, ListQuery{Filter: FilterAll})
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		Admin:    p.Admin,
		ByType:   make(map[ItemType]int, len(ItemTypes)),
		ByStatus: map[Status]int{StatusDraft: 0, StatusPublished: 0},
	}
	for _, t := range ItemTypes {
		sum.ByType[t] = 0
	}
	for item, err := range seq {
		if err != nil {
			return Summary{}, err
		}
		sum.Total++
		sum.ByType[item.Type]++
		sum.ByStatus[item.Status]++
	}
	return sum, nil
}

// RecordResult appends a result to an item the caller may see. The item
// itself is not modified.
func (s *Service) RecordResult(ctx context.Context, p Principal, itemID string, userInputs, computedOutputs json.RawMessage) (Result, error) {
	item, err := s.authorize(ctx, p, itemID, ActionRead)
	if err != nil {
		return Result{}, err
	}
	inputs, err := compactJSON("userInputs", userInputs)
	if err != nil {
		return Result{}, err
	}
	outputs, err := compactJSON("computedOutputs", computedOutputs)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		ID:              s.newID(),
		ItemID:          item.ID,
		UserInputs:      inputs,
		ComputedOutputs: outputs,
		SubmittedBy:     p.UserID,
		CreatedAt:       s.timestamp(),
	}
	if err := s.store.CreateResult(ctx, result); err != nil {
		return Result{}, storeError("record result", err)
	}
	return result, nil
}

// ListResults returns the results of an item owned by the caller, oldest
// first.
func (s *Service) ListResults(ctx context.Context, p Principal, itemID string) ([]Result, error) {
	if _, err := s.authorize(ctx, p, itemID, ActionResults); err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, itemID)
	if err != nil {
		return nil, storeError("list results", err)
	}
	if results == nil {
		results = []Result{}
	}
	return results, nil
}

// CreateConfiguration stores a new configuration document owned by the
// caller. The document must be a JSON object or array.
func (s *Service) CreateConfiguration(ctx context.Context, p Principal, title string, document json.RawMessage, categories ...string) (Configuration, error) {
	if err := requireAuthenticated(p, "create configuration"); err != nil {
		return Configuration{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Configuration{}, validationf("title is required")
	}
	doc, err := compactJSON("document", document)
	if err != nil {
		return Configuration{}, err
	}
	if doc[0] != '{' && doc[0] != '[' {
		return Configuration{}, validationf("document must be a JSON object or array")
	}
	cats, err := normalizeCategories(categories)
	if err != nil {
		return Configuration{}, err
	}

	now := s.timestamp()
	cfg := Configuration{
		ID:         s.newID(),
		Title:      title,
		Document:   doc,
		Categories: cats,
		OwnerID:    p.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateConfiguration(ctx, cfg); err != nil {
		return Configuration{}, storeError("create configuration", err)
	}
	return cfg, nil
}

// GetConfiguration returns one configuration.
func (s *Service) GetConfiguration(ctx context.Context, id string) (Configuration, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Configuration{}, notFoundf("configuration not found")
	}
	cfg, err := s.store.GetConfiguration(ctx, id)
	if err != nil {
		return Configuration{}, storeError("get configuration "+id, err)
	}
	return cfg, nil
}

// ListConfigurations returns the configurations in category, or every
// configuration when category is empty, ordered by title.
func (s *Service) ListConfigurations(ctx context.Context, category string) ([]Configuration, error) {
	if category = strings.TrimSpace(category); category != "" {
		var err error
		if category, err = NormalizeCategory(category); err != nil {
			return nil, err
		}
	}
	cfgs, err := s.store.ListConfigurations(ctx)
	if err != nil {
		return nil, storeError("list configurations", err)
	}
	if category != "" {
		cfgs = slices.DeleteFunc(cfgs, func(cfg Configuration) bool { return !InCategory(cfg.Categories, category) })
	}
	if cfgs == nil {
		cfgs = []Configuration{}
	}
	return cfgs, nil
}

// DeleteConfiguration removes a configuration owned by the caller. Items that
// reference it drop the reference the next time they are saved.
func (s *Service) DeleteConfiguration(ctx context.Context, p Principal, id string) error {
	cfg, err := s.GetConfiguration(ctx, id)
	if err != nil {
		return err
	}
	if err := CanManageConfiguration(p, cfg); err != nil {
		return err
	}
	if err := s.store.DeleteConfiguration(ctx, cfg.ID); err != nil {
		return storeError("delete configuration "+cfg.ID, err)
	}
	return nil
}

// CreateKnowledge stores a new knowledge entry owned by the caller.
func (s *Service) CreateKnowledge(ctx context.Context, p Principal, title, content string) (KnowledgeEntry, error) {
	if err := requireAuthenticated(p, "create knowledge entry"); err != nil {
		return KnowledgeEntry{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return KnowledgeEntry{}, validationf("title is required")
	}
	now := s.timestamp()
	entry := KnowledgeEntry{
		ID:        s.newID(),
		Title:     title,
		Content:   content,
		OwnerID:   p.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateKnowledge(ctx, entry); err != nil {
		return KnowledgeEntry{}, storeError("create knowledge entry", err)
	}
	return entry, nil
}

// GetKnowledge returns one knowledge entry. Entries are public.
func (s *Service) GetKnowledge(ctx context.Context, id string) (KnowledgeEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return KnowledgeEntry{}, notFoundf("knowledge entry not found")
	}
	entry, err := s.store.GetKnowledge(ctx, id)
	if err != nil {
		return KnowledgeEntry{}, storeError("get knowledge entry "+id, err)
	}
	return entry, nil
}

// ListKnowledge returns every knowledge entry ordered by title.
func (s *Service) ListKnowledge(ctx context.Context) ([]KnowledgeEntry, error) {
	entries, err := s.store.ListKnowledge(ctx)
	if err != nil {
		return nil, storeError("list knowledge entries", err)
	}
	if entries == nil {
		entries = []KnowledgeEntry{}
	}
	return entries, nil
}

// DeleteKnowledge removes a knowledge entry owned by the caller. Items that
// reference it drop the reference the next time they are saved.
func (s *Service) DeleteKnowledge(ctx context.Context, p Principal, id string) error {
	entry, err := s.GetKnowledge(ctx, id)
	if err != nil {
		return err
	}
	if err := CanManageKnowledge(p, entry); err != nil {
		return err
	}
	if err := s.store.DeleteKnowledge(ctx, entry.ID); err != nil {
		return storeError("delete knowledge entry "+entry.ID, err)
	}
	return nil
}

// authorize loads an item and checks that p may perform action on it.
func (s *Service) authorize(ctx context.Context, p Principal, id string, action Action) (Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Item{}, notFoundf("item not found")
	}
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return Item{}, storeError("get item "+id, err)
	}
	if err := CanAccess(p, item, action); err != nil {
		return Item{}, err
	}
	return item, nil
}

// resolveReferences prunes the configuration and knowledge ids of item.
func (s *Service) resolveReferences(ctx context.Context, item *Item) error {
	var err error
	if item.ConfigIDs, err = resolveIDs(ctx, "configurations", item.ConfigIDs, s.store.ExistingConfigurations); err != nil {
		return err
	}
	item.KnowledgeIDs, err = resolveIDs(ctx, "knowledge entries", item.KnowledgeIDs, s.store.ExistingKnowledge)
	return err
}

// resolveIDs drops blank, repeated and unknown ids, keeping the order of
// first appearance.
func resolveIDs(ctx context.Context, what string, ids []string, existing func(context.Context, []string) (map[string]bool, error)) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	wanted := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		wanted = append(wanted, id)
	}
	if len(wanted) == 0 {
		return []string{}, nil
	}
	found, err := existing(ctx, wanted)
	if err != nil {
		return nil, storeError("resolve "+what, err)
	}
	return slices.DeleteFunc(wanted, func(id string) bool { return !found[id] }), nil
}

func itemQuery(p Principal, q ListQuery) (ItemQuery, error) {
	var query ItemQuery
	switch filter := strings.TrimSpace(q.Filter); filter {
	case "", FilterAll:
	default:
		t := ItemType(filter)
		if !t.Valid() {
			return ItemQuery{}, validationf("unknown filter %q", filter)
		}
		query.Type = t
	}
	query.SearchFold = Fold(q.Search)
	if category := strings.TrimSpace(q.Category); category != "" {
		c, err := NormalizeCategory(category)
		if err != nil {
			return ItemQuery{}, err
		}
		query.Category = c
	}
	switch {
	case p.Admin:
	case p.Anonymous():
		query.Status = StatusPublished
	default:
		query.OwnerID = p.UserID
	}
	return query, nil
}

func sameContent(a, b Item) bool {
	return a.Title == b.Title &&
		a.Type == b.Type &&
		a.Content == b.Content &&
		a.Status == b.Status &&
		bytes.Equal(a.Settings, b.Settings) &&
		slices.Equal(a.ConfigIDs, b.ConfigIDs) &&
		slices.Equal(a.KnowledgeIDs, b.KnowledgeIDs) &&
		slices.Equal(a.Categories, b.Categories)
}

// normalizeSettings validates and compacts an inline settings document. The
// literal null clears the settings.
func normalizeSettings(raw json.RawMessage) (json.RawMessage, error) {
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	return compactJSON("settings", raw)
}

func compactJSON(field string, raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, validationf("%s is required", field)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, validationf("%s is not valid JSON: %v", field, err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
