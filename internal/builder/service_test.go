package builder_test

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"calculogic/internal/builder"
	"calculogic/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	owner    = builder.Principal{UserID: "1"}
	stranger = builder.Principal{UserID: "2"}
	admin    = builder.Principal{UserID: "99", Admin: true}
	visitor  = builder.Principal{}
)

// stepClock advances one second on every reading so list order is
// deterministic.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newService(t *testing.T, opts ...builder.Option) *builder.Service {
	t.Helper()
	return newServiceOn(t, openStore(t), opts...)
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "builder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// newServiceOn builds a service with a stepping clock and sequential ids.
func newServiceOn(t *testing.T, store builder.Store, opts ...builder.Option) *builder.Service {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)}
	var (
		mu   sync.Mutex
		next = 100
	)
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprint(next)
	}
	opts = append([]builder.Option{builder.WithClock(clock.Now), builder.WithIDGenerator(ids)}, opts...)
	return builder.NewService(store, opts...)
}

func ptr[T any](v T) *T { return &v }

func collect(t *testing.T, svc *builder.Service, p builder.Principal, q builder.ListQuery) []builder.Item {
	t.Helper()
	seq, err := svc.List(context.Background(), p, q)
	require.NoError(t, err)
	var out []builder.Item
	for item, err := range seq {
		require.NoError(t, err)
		out = append(out, item)
	}
	return out
}

func titles(items []builder.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Title)
	}
	return out
}

func TestCreateThenReadReturnsDraft(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for _, itemType := range builder.ItemTypes {
		t.Run(string(itemType), func(t *testing.T) {
			created, err := svc.Create(ctx, owner, "  My "+string(itemType)+"  ", itemType)
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID)
			assert.Equal(t, builder.StatusDraft, created.Status)
			assert.Empty(t, created.ConfigIDs)
			assert.Equal(t, int64(1), created.Revision)

			got, err := svc.Read(ctx, owner, created.ID)
			require.NoError(t, err)
			assert.Equal(t, "My "+string(itemType), got.Title)
			assert.Equal(t, itemType, got.Type)
			assert.Equal(t, builder.StatusDraft, got.Status)
			assert.Equal(t, owner.UserID, got.OwnerID)
		})
	}
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	tests := []struct {
		name     string
		p        builder.Principal
		title    string
		itemType builder.ItemType
		want     error
	}{
		{name: "blank title", p: owner, title: "   ", itemType: builder.TypeQuiz, want: builder.ErrValidation},
		{name: "unknown type", p: owner, title: "Poll", itemType: "poll", want: builder.ErrValidation},
		{name: "anonymous", p: visitor, title: "Poll", itemType: builder.TypeQuiz, want: builder.ErrAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.p, tt.title, tt.itemType)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSalesCalcScenario(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	created, err := svc.Create(ctx, owner, "Sales Calc", builder.TypeCalculator)
	require.NoError(t, err)
	assert.Equal(t, "101", created.ID)

	_, err = svc.Read(ctx, stranger, "101")
	assert.ErrorIs(t, err, builder.ErrNotFound)

	_, err = svc.Update(ctx, owner, "101", builder.ItemFields{Status: ptr(builder.StatusPublished)})
	require.NoError(t, err)

	got, err := svc.Read(ctx, stranger, "101")
	require.NoError(t, err)
	assert.Equal(t, "Sales Calc", got.Title)
}

func TestUpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	cfg, err := svc.CreateConfiguration(ctx, owner, "Fields", json.RawMessage(`{"fields":[]}`))
	require.NoError(t, err)
	item, err := svc.Create(ctx, owner, "Budget", builder.TypeCalculator)
	require.NoError(t, err)

	fields := builder.ItemFields{
		Title:     ptr("Budget planner"),
		Content:   ptr("<p>plan</p>"),
		ConfigIDs: ptr([]string{cfg.ID, "missing", cfg.ID}),
		Settings:  json.RawMessage(`{ "rounding": 2 }`),
	}
	once, err := svc.Update(ctx, owner, item.ID, fields)
	require.NoError(t, err)
	assert.Equal(t, []string{cfg.ID}, once.ConfigIDs)
	assert.JSONEq(t, `{"rounding":2}`, string(once.Settings))
	assert.Equal(t, int64(2), once.Revision)

	twice, err := svc.Update(ctx, owner, item.ID, fields)
	require.NoError(t, err)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("second update changed the item (-once +twice):\n%s", diff)
	}

	stored, err := svc.Read(ctx, owner, item.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(once, stored); diff != "" {
		t.Fatalf("stored item differs (-want +got):\n%s", diff)
	}
}

func TestUpdateKeepsUnspecifiedFields(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	item, err := svc.Create(ctx, owner, "Personality", builder.TypeQuiz)
	require.NoError(t, err)
	_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{Content: ptr("body")})
	require.NoError(t, err)

	got, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Type: ptr(builder.TypeTemplate)})
	require.NoError(t, err)
	assert.Equal(t, "Personality", got.Title)
	assert.Equal(t, "body", got.Content)
	assert.Equal(t, builder.TypeTemplate, got.Type)
	assert.Equal(t, builder.StatusDraft, got.Status)
}

func TestUpdateValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, err := svc.Create(ctx, owner, "Quiz", builder.TypeQuiz)
	require.NoError(t, err)

	tests := []struct {
		name   string
		fields builder.ItemFields
	}{
		{name: "blank title", fields: builder.ItemFields{Title: ptr(" ")}},
		{name: "unknown type", fields: builder.ItemFields{Type: ptr(builder.ItemType("survey"))}},
		{name: "unknown status", fields: builder.ItemFields{Status: ptr(builder.Status("archived"))}},
		{name: "bad settings", fields: builder.ItemFields{Settings: json.RawMessage(`{"a":`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(ctx, owner, item.ID, tt.fields)
			assert.ErrorIs(t, err, builder.ErrValidation)
		})
	}

	got, err := svc.Read(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Revision, got.Revision)
}

func TestUpdateSettingsNullClears(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, err := svc.Create(ctx, owner, "Calc", builder.TypeCalculator)
	require.NoError(t, err)

	withSettings, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Settings: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	require.NotNil(t, withSettings.Settings)

	cleared, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Settings: json.RawMessage(`null`)})
	require.NoError(t, err)
	assert.Nil(t, cleared.Settings)
}

func TestUpdateIfRevision(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, err := svc.Create(ctx, owner, "Calc", builder.TypeCalculator)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Title: ptr("Calc v2"), IfRevision: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)

	_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{Title: ptr("Calc v3"), IfRevision: 1})
	assert.ErrorIs(t, err, builder.ErrConflict)
}

// racingStore commits a competing edit right after the next item read, as
// if another editor saved between the read and the write of an update.
type racingStore struct {
	builder.Store
	mu    sync.Mutex
	armed bool
}

func (r *racingStore) arm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = true
}

func (r *racingStore) GetItem(ctx context.Context, id string) (builder.Item, error) {
	item, err := r.Store.GetItem(ctx, id)
	r.mu.Lock()
	race := r.armed && err == nil
	r.armed = false
	r.mu.Unlock()
	if !race {
		return item, err
	}
	competing := item
	competing.Content = "edited elsewhere"
	competing.Revision = item.Revision + 1
	competing.UpdatedAt = item.UpdatedAt.Add(time.Millisecond)
	if err := r.Store.UpdateItem(ctx, competing, item.Revision); err != nil {
		return builder.Item{}, err
	}
	return item, nil
}

func TestUpdateWithoutIfRevisionSurvivesConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: openStore(t)}
	svc := newServiceOn(t, store)

	item, err := svc.Create(ctx, owner, "Calc", builder.TypeCalculator)
	require.NoError(t, err)

	store.arm()
	got, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Title: ptr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "edited elsewhere", got.Content, "the competing edit is kept")
	assert.Equal(t, int64(3), got.Revision)

	stored, err := svc.Read(ctx, owner, item.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(got, stored); diff != "" {
		t.Fatalf("stored item differs (-want +got):\n%s", diff)
	}
}

func TestUpdateWithIfRevisionRejectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: openStore(t)}
	svc := newServiceOn(t, store)

	item, err := svc.Create(ctx, owner, "Calc", builder.TypeCalculator)
	require.NoError(t, err)

	store.arm()
	_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{Title: ptr("Renamed"), IfRevision: item.Revision})
	assert.ErrorIs(t, err, builder.ErrConflict)

	stored, err := svc.Read(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Calc", stored.Title)
	assert.Equal(t, "edited elsewhere", stored.Content)
}

func TestUpdateCategories(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	item, err := svc.Create(ctx, owner, "Loan Calc", builder.TypeCalculator)
	require.NoError(t, err)
	assert.Equal(t, []string{}, item.Categories)

	got, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{
		Categories: ptr([]string{"Finance / Loans", "finance/loans", "Tools"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"finance/loans", "tools"}, got.Categories)
	assert.Equal(t, int64(2), got.Revision)

	same, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Categories: ptr([]string{"finance/loans", "TOOLS"})})
	require.NoError(t, err)
	assert.Equal(t, int64(2), same.Revision, "equal categories are not a change")

	_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{Categories: ptr([]string{"finance//loans"})})
	assert.ErrorIs(t, err, builder.ErrValidation)

	cleared, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Categories: ptr([]string{})})
	require.NoError(t, err)
	assert.Equal(t, []string{}, cleared.Categories)
}

func TestListByCategory(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	place := func(title string, categories ...string) {
		t.Helper()
		item, err := svc.Create(ctx, owner, title, builder.TypeCalculator)
		require.NoError(t, err)
		_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{Categories: ptr(categories)})
		require.NoError(t, err)
	}
	place("Loan", "finance/loans")
	place("Tax", "finance/tax", "gov")
	place("BMI", "health")
	place("Loose")

	assert.Equal(t, []string{"Tax", "Loan"}, titles(collect(t, svc, owner, builder.ListQuery{Category: "Finance"})))
	assert.Equal(t, []string{"Loan"}, titles(collect(t, svc, owner, builder.ListQuery{Category: "finance/loans"})))
	assert.Equal(t, []string{"Tax"}, titles(collect(t, svc, owner, builder.ListQuery{Category: "gov"})))
	assert.Empty(t, collect(t, svc, owner, builder.ListQuery{Category: "fin"}))

	_, err := svc.List(ctx, owner, builder.ListQuery{Category: "/"})
	assert.ErrorIs(t, err, builder.ErrValidation)

	page, err := svc.ListPage(ctx, owner, builder.ListQuery{Category: "finance"}, 1, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.NextPageToken)
	_, err = svc.ListPage(ctx, owner, builder.ListQuery{Category: "health"}, 1, page.NextPageToken)
	assert.ErrorIs(t, err, builder.ErrValidation, "tokens are bound to the category")
	next, err := svc.ListPage(ctx, owner, builder.ListQuery{Category: "finance"}, 1, page.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"Loan"}, titles(next.Items))
}

func TestKnowledgeReferences(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.CreateKnowledge(ctx, visitor, "Rates", "")
	assert.ErrorIs(t, err, builder.ErrAuthorization)
	_, err = svc.CreateKnowledge(ctx, owner, " ", "")
	assert.ErrorIs(t, err, builder.ErrValidation)

	rates, err := svc.CreateKnowledge(ctx, owner, "Tax rates", `{"vat":0.2}`)
	require.NoError(t, err)
	formulas, err := svc.CreateKnowledge(ctx, stranger, "Formulas", "class Amortization {}")
	require.NoError(t, err)

	item, err := svc.Create(ctx, owner, "Tax Calc", builder.TypeCalculator)
	require.NoError(t, err)
	assert.Equal(t, []string{}, item.KnowledgeIDs)
	item, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{
		KnowledgeIDs: ptr([]string{formulas.ID, "missing", rates.ID, formulas.ID}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{formulas.ID, rates.ID}, item.KnowledgeIDs)

	list, err := svc.ListKnowledge(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Formulas", "Tax rates"}, []string{list[0].Title, list[1].Title})
	got, err := svc.GetKnowledge(ctx, rates.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"vat":0.2}`, got.Content)

	assert.ErrorIs(t, svc.DeleteKnowledge(ctx, owner, formulas.ID), builder.ErrAuthorization)
	require.NoError(t, svc.DeleteKnowledge(ctx, stranger, formulas.ID))
	_, err = svc.GetKnowledge(ctx, formulas.ID)
	assert.ErrorIs(t, err, builder.ErrNotFound)

	saved, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Content: ptr("body")})
	require.NoError(t, err)
	assert.Equal(t, []string{rates.ID}, saved.KnowledgeIDs, "deleted entries are pruned on save")

	dup, err := svc.Duplicate(ctx, owner, item.ID, "Copy")
	require.NoError(t, err)
	assert.Equal(t, []string{rates.ID}, dup.KnowledgeIDs)
}

func TestSavePrunesDeletedConfigurations(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	keep, err := svc.CreateConfiguration(ctx, owner, "Keep", json.RawMessage(`{}`))
	require.NoError(t, err)
	drop, err := svc.CreateConfiguration(ctx, owner, "Drop", json.RawMessage(`{}`))
	require.NoError(t, err)
	item, err := svc.Create(ctx, owner, "Calc", builder.TypeCalculator)
	require.NoError(t, err)
	_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{ConfigIDs: ptr([]string{drop.ID, keep.ID})})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConfiguration(ctx, owner, drop.ID))

	got, err := svc.Update(ctx, owner, item.ID, builder.ItemFields{Content: ptr("new body")})
	require.NoError(t, err)
	assert.Equal(t, []string{keep.ID}, got.ConfigIDs)
}

func TestNonOwnerCannotMutate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	draft, err := svc.Create(ctx, owner, "Draft", builder.TypeQuiz)
	require.NoError(t, err)
	published, err := svc.Create(ctx, owner, "Published", builder.TypeQuiz)
	require.NoError(t, err)
	published, err = svc.Update(ctx, owner, published.ID, builder.ItemFields{Status: ptr(builder.StatusPublished)})
	require.NoError(t, err)

	for _, p := range []builder.Principal{stranger, visitor} {
		for _, item := range []builder.Item{draft, published} {
			_, err := svc.Update(ctx, p, item.ID, builder.ItemFields{Title: ptr("Hijacked")})
			assertDenied(t, err)
			assertDenied(t, svc.Delete(ctx, p, item.ID))
			_, err = svc.Duplicate(ctx, p, item.ID, "Copy")
			assertDenied(t, err)

			got, err := svc.Read(ctx, owner, item.ID)
			require.NoError(t, err)
			if diff := cmp.Diff(item, got); diff != "" {
				t.Fatalf("item mutated by %+v (-want +got):\n%s", p, diff)
			}
		}
	}

	_, err = svc.Update(ctx, stranger, published.ID, builder.ItemFields{Title: ptr("x")})
	assert.ErrorIs(t, err, builder.ErrAuthorization)
	_, err = svc.Update(ctx, stranger, draft.ID, builder.ItemFields{Title: ptr("x")})
	assert.ErrorIs(t, err, builder.ErrNotFound)
}

func assertDenied(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	kind := builder.KindOf(err)
	assert.Contains(t, []builder.Kind{builder.KindAuthorization, builder.KindNotFound}, kind)
}

func TestAdminMayMutateAnyItem(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	item, err := svc.Create(ctx, owner, "Owned", builder.TypeTemplate)
	require.NoError(t, err)

	got, err := svc.Update(ctx, admin, item.ID, builder.ItemFields{Title: ptr("Moderated")})
	require.NoError(t, err)
	assert.Equal(t, "Moderated", got.Title)
	assert.Equal(t, owner.UserID, got.OwnerID)

	require.NoError(t, svc.Delete(ctx, admin, item.ID))
}

func TestDeleteThenReadIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	item, err := svc.Create(ctx, owner, "Gone", builder.TypeQuiz)
	require.NoError(t, err)
	_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{Status: ptr(builder.StatusPublished)})
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, visitor, item.ID, json.RawMessage(`{"q":1}`), json.RawMessage(`{"s":1}`))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, owner, item.ID))

	for _, p := range []builder.Principal{owner, stranger, admin, visitor} {
		_, err := svc.Read(ctx, p, item.ID)
		assert.ErrorIs(t, err, builder.ErrNotFound)
	}
	_, err = svc.ListResults(ctx, admin, item.ID)
	assert.ErrorIs(t, err, builder.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, owner, item.ID), builder.ErrNotFound)
}

func TestDuplicate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	cfg, err := svc.CreateConfiguration(ctx, owner, "Fields", json.RawMessage(`[]`))
	require.NoError(t, err)
	src, err := svc.Create(ctx, owner, "Original", builder.TypeQuiz)
	require.NoError(t, err)
	src, err = svc.Update(ctx, owner, src.ID, builder.ItemFields{
		Content:   ptr("<p>questions</p>"),
		ConfigIDs: ptr([]string{cfg.ID}),
		Status:    ptr(builder.StatusPublished),
	})
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, stranger, src.ID, json.RawMessage(`{}`), json.RawMessage(`{}`))
	require.NoError(t, err)

	dup, err := svc.Duplicate(ctx, admin, src.ID, " Copy ")
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, "Copy", dup.Title)
	assert.Equal(t, src.Type, dup.Type)
	assert.Equal(t, src.Content, dup.Content)
	assert.Equal(t, src.ConfigIDs, dup.ConfigIDs)
	assert.Equal(t, admin.UserID, dup.OwnerID)
	assert.Equal(t, builder.StatusDraft, dup.Status)

	results, err := svc.ListResults(ctx, admin, dup.ID)
	require.NoError(t, err)
	assert.Empty(t, results)

	after, err := svc.Read(ctx, owner, src.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(src, after); diff != "" {
		t.Fatalf("source changed (-want +got):\n%s", diff)
	}

	_, err = svc.Duplicate(ctx, owner, src.ID, "  ")
	assert.ErrorIs(t, err, builder.ErrValidation)
}

func TestListVisibility(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	mine, err := svc.Create(ctx, owner, "Mine draft", builder.TypeQuiz)
	require.NoError(t, err)
	theirs, err := svc.Create(ctx, stranger, "Theirs published", builder.TypeQuiz)
	require.NoError(t, err)
	_, err = svc.Update(ctx, stranger, theirs.ID, builder.ItemFields{Status: ptr(builder.StatusPublished)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, stranger, "Theirs calc", builder.TypeCalculator)
	require.NoError(t, err)

	assert.Equal(t, []string{mine.Title}, titles(collect(t, svc, owner, builder.ListQuery{})))
	assert.Equal(t, []string{"Theirs published"}, titles(collect(t, svc, visitor, builder.ListQuery{Filter: "all"})))
	assert.Equal(t, []string{"Theirs calc", "Theirs published", "Mine draft"}, titles(collect(t, svc, admin, builder.ListQuery{})))
}

func TestAdminListQuizzesMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Create(ctx, owner, "Quiz A", builder.TypeQuiz)
	require.NoError(t, err)
	b, err := svc.Create(ctx, stranger, "Quiz B", builder.TypeQuiz)
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner, "Calc", builder.TypeCalculator)
	require.NoError(t, err)
	_, err = svc.Create(ctx, stranger, "Quiz C", builder.TypeQuiz)
	require.NoError(t, err)
	_, err = svc.Update(ctx, stranger, b.ID, builder.ItemFields{Content: ptr("touched")})
	require.NoError(t, err)

	got := collect(t, svc, admin, builder.ListQuery{Filter: "quiz", Search: ""})
	assert.Equal(t, []string{"Quiz B", "Quiz C", "Quiz A"}, titles(got))
}

func TestListSearchIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for _, title := range []string{"Straße Planner", "Sales Calc", "Retirement"} {
		_, err := svc.Create(ctx, owner, title, builder.TypeCalculator)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Sales Calc"}, titles(collect(t, svc, owner, builder.ListQuery{Search: "SALES"})))
	assert.Equal(t, []string{"Straße Planner"}, titles(collect(t, svc, owner, builder.ListQuery{Search: "STRASSE"})))
}

func TestListRejectsUnknownFilter(t *testing.T) {
	svc := newService(t)
	_, err := svc.List(context.Background(), owner, builder.ListQuery{Filter: "survey"})
	assert.ErrorIs(t, err, builder.ErrValidation)
}

func TestListSequenceIsRestartable(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, builder.WithPageSize(2))

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, owner, fmt.Sprintf("Item %d", i), builder.TypeTemplate)
		require.NoError(t, err)
	}

	seq, err := svc.List(ctx, owner, builder.ListQuery{})
	require.NoError(t, err)

	var first []string
	for item, err := range seq {
		require.NoError(t, err)
		first = append(first, item.Title)
	}
	var second []string
	for item, err := range seq {
		require.NoError(t, err)
		second = append(second, item.Title)
		if len(second) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"Item 4", "Item 3", "Item 2", "Item 1", "Item 0"}, first)
	assert.Equal(t, first[:2], second)
}

func TestListPageTokens(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	for i := 0; i < 5; i++ {
		_, err := svc.Create(ctx, owner, fmt.Sprintf("Quiz %d", i), builder.TypeQuiz)
		require.NoError(t, err)
	}

	var got []string
	token := ""
	for {
		page, err := svc.ListPage(ctx, owner, builder.ListQuery{Filter: "quiz"}, 2, token)
		require.NoError(t, err)
		got = append(got, titles(page.Items)...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	assert.Equal(t, []string{"Quiz 4", "Quiz 3", "Quiz 2", "Quiz 1", "Quiz 0"}, got)

	first, err := svc.ListPage(ctx, owner, builder.ListQuery{Filter: "quiz"}, 2, "")
	require.NoError(t, err)
	_, err = svc.ListPage(ctx, owner, builder.ListQuery{Filter: "template"}, 2, first.NextPageToken)
	assert.ErrorIs(t, err, builder.ErrValidation)
	_, err = svc.ListPage(ctx, owner, builder.ListQuery{}, 2, "garbage")
	assert.ErrorIs(t, err, builder.ErrValidation)
}

func TestRecordResult(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	item, err := svc.Create(ctx, owner, "Quiz", builder.TypeQuiz)
	require.NoError(t, err)

	_, err = svc.RecordResult(ctx, visitor, item.ID, json.RawMessage(`{}`), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, builder.ErrNotFound, "drafts do not accept anonymous submissions")
	_, err = svc.RecordResult(ctx, visitor, "nope", json.RawMessage(`{}`), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, builder.ErrNotFound)

	_, err = svc.Update(ctx, owner, item.ID, builder.ItemFields{Status: ptr(builder.StatusPublished)})
	require.NoError(t, err)

	_, err = svc.RecordResult(ctx, visitor, item.ID, json.RawMessage(`{"q1":`), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, builder.ErrValidation)
	_, err = svc.RecordResult(ctx, visitor, item.ID, json.RawMessage(`{}`), nil)
	assert.ErrorIs(t, err, builder.ErrValidation)

	result, err := svc.RecordResult(ctx, visitor, item.ID, json.RawMessage(`{"q1": "b"}`), json.RawMessage(`{"score": 3}`))
	require.NoError(t, err)
	assert.Equal(t, item.ID, result.ItemID)
	assert.Empty(t, result.SubmittedBy)
	assert.JSONEq(t, `{"q1":"b"}`, string(result.UserInputs))

	before, err := svc.Read(ctx, owner, item.ID)
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, stranger, item.ID, json.RawMessage(`{}`), json.RawMessage(`{}`))
	require.NoError(t, err)
	after, err := svc.Read(ctx, owner, item.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	results, err := svc.ListResults(ctx, owner, item.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, result.ID, results[0].ID)
	assert.Equal(t, stranger.UserID, results[1].SubmittedBy)

	_, err = svc.ListResults(ctx, stranger, item.ID)
	assert.ErrorIs(t, err, builder.ErrAuthorization)
}

func TestConfigurations(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.CreateConfiguration(ctx, visitor, "Anon", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, builder.ErrAuthorization)
	_, err = svc.CreateConfiguration(ctx, owner, "Scalar", json.RawMessage(`42`))
	assert.ErrorIs(t, err, builder.ErrValidation)
	_, err = svc.CreateConfiguration(ctx, owner, "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, builder.ErrValidation)

	styling, err := svc.CreateConfiguration(ctx, owner, "Styling", json.RawMessage(`{ "theme": "dark" }`))
	require.NoError(t, err)
	assert.Equal(t, `{"theme":"dark"}`, string(styling.Document))
	_, err = svc.CreateConfiguration(ctx, stranger, "Fields", json.RawMessage(`[]`))
	require.NoError(t, err)

	list, err := svc.ListConfigurations(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Fields", list[0].Title)

	got, err := svc.GetConfiguration(ctx, styling.ID)
	require.NoError(t, err)
	assert.Equal(t, styling.Title, got.Title)

	themed, err := svc.CreateConfiguration(ctx, owner, "Themes", json.RawMessage(`{}`), "Styling/Dark Mode", "styling/dark-mode")
	require.NoError(t, err)
	assert.Equal(t, []string{"styling/dark-mode"}, themed.Categories)
	list, err = svc.ListConfigurations(ctx, "styling")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, themed.ID, list[0].ID)
	_, err = svc.ListConfigurations(ctx, "a//b")
	assert.ErrorIs(t, err, builder.ErrValidation)
	_, err = svc.CreateConfiguration(ctx, owner, "Bad", json.RawMessage(`{}`), " ")
	assert.ErrorIs(t, err, builder.ErrValidation)

	assert.ErrorIs(t, svc.DeleteConfiguration(ctx, stranger, styling.ID), builder.ErrAuthorization)
	require.NoError(t, svc.DeleteConfiguration(ctx, admin, styling.ID))
	_, err = svc.GetConfiguration(ctx, styling.ID)
	assert.ErrorIs(t, err, builder.ErrNotFound)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	q, err := svc.Create(ctx, owner, "Quiz", builder.TypeQuiz)
	require.NoError(t, err)
	_, err = svc.Update(ctx, owner, q.ID, builder.ItemFields{Status: ptr(builder.StatusPublished)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, owner, "Calc", builder.TypeCalculator)
	require.NoError(t, err)
	_, err = svc.Create(ctx, stranger, "Other", builder.TypeTemplate)
	require.NoError(t, err)

	sum, err := svc.Summary(ctx, owner)
	require.NoError(t, err)
	assert.False(t, sum.Admin)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, map[builder.ItemType]int{builder.TypeCalculator: 1, builder.TypeQuiz: 1, builder.TypeTemplate: 0}, sum.ByType)
	assert.Equal(t, map[builder.Status]int{builder.StatusDraft: 1, builder.StatusPublished: 1}, sum.ByStatus)

	sum, err = svc.Summary(ctx, admin)
	require.NoError(t, err)
	assert.True(t, sum.Admin)
	assert.Equal(t, 3, sum.Total)
}
