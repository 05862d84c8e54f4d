// Package storetest holds the behaviour every builder.Store implementation
// must share. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calculogic/internal/builder"
)

// Opener returns an empty store. The suite closes it.
type Opener func(t *testing.T) builder.Store

var base = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

func newItem(id, owner string, t builder.ItemType, status builder.Status, updated time.Duration) builder.Item {
	return builder.Item{
		ID:           id,
		Title:        "Item " + id,
		Type:         t,
		Content:      "<p>" + id + "</p>",
		OwnerID:      owner,
		ConfigIDs:    []string{},
		KnowledgeIDs: []string{},
		Categories:   []string{},
		Status:       status,
		Revision:     1,
		CreatedAt:    base,
		UpdatedAt:    base.Add(updated),
	}
}

// Run runs the conformance suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("ItemRoundTrip", func(t *testing.T) { testItemRoundTrip(t, open) })
	t.Run("UpdateChecksRevision", func(t *testing.T) { testUpdateChecksRevision(t, open) })
	t.Run("DeleteCascadesResults", func(t *testing.T) { testDeleteCascadesResults(t, open) })
	t.Run("ListOrderAndFilters", func(t *testing.T) { testListOrderAndFilters(t, open) })
	t.Run("ListPagination", func(t *testing.T) { testListPagination(t, open) })
	t.Run("ListByCategory", func(t *testing.T) { testListByCategory(t, open) })
	t.Run("Configurations", func(t *testing.T) { testConfigurations(t, open) })
	t.Run("Knowledge", func(t *testing.T) { testKnowledge(t, open) })
	t.Run("Results", func(t *testing.T) { testResults(t, open) })
	t.Run("ResultsRequireItem", func(t *testing.T) { testResultsRequireItem(t, open) })
}

func openStore(t *testing.T, open Opener) builder.Store {
	t.Helper()
	store := open(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testItemRoundTrip(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	item := newItem("a1", "user-1", builder.TypeCalculator, builder.StatusDraft, 0)
	item.ConfigIDs = []string{"cfg-2", "cfg-1"}
	item.KnowledgeIDs = []string{"kn-1"}
	item.Categories = []string{"finance/tax", "finance"}
	item.Settings = json.RawMessage(`{"currency":"EUR"}`)
	require.NoError(t, store.CreateItem(ctx, item))

	got, err := store.GetItem(ctx, "a1")
	require.NoError(t, err)
	if diff := cmp.Diff(item, got); diff != "" {
		t.Fatalf("stored item mismatch (-want +got):\n%s", diff)
	}

	_, err = store.GetItem(ctx, "missing")
	assert.ErrorIs(t, err, builder.ErrNotFound)
}

func testUpdateChecksRevision(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	item := newItem("u1", "user-1", builder.TypeQuiz, builder.StatusDraft, 0)
	require.NoError(t, store.CreateItem(ctx, item))

	next := item
	next.Title = "Renamed"
	next.Type = builder.TypeTemplate
	next.ConfigIDs = []string{"cfg-9"}
	next.KnowledgeIDs = []string{"kn-2", "kn-1"}
	next.Categories = []string{"quizzes"}
	next.Revision = 2
	next.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, store.UpdateItem(ctx, next, 1))

	got, err := store.GetItem(ctx, "u1")
	require.NoError(t, err)
	if diff := cmp.Diff(next, got); diff != "" {
		t.Fatalf("updated item mismatch (-want +got):\n%s", diff)
	}

	stale := next
	stale.Title = "Stale"
	stale.Revision = 3
	assert.ErrorIs(t, store.UpdateItem(ctx, stale, 1), builder.ErrConflict)

	ghost := newItem("ghost", "user-1", builder.TypeQuiz, builder.StatusDraft, 0)
	assert.ErrorIs(t, store.UpdateItem(ctx, ghost, 1), builder.ErrNotFound)

	page, err := store.ListItems(ctx, builder.ItemQuery{Type: builder.TypeTemplate})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "u1", page.Items[0].ID)

	page, err = store.ListItems(ctx, builder.ItemQuery{Type: builder.TypeQuiz})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func testDeleteCascadesResults(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	item := newItem("d1", "user-1", builder.TypeQuiz, builder.StatusPublished, 0)
	require.NoError(t, store.CreateItem(ctx, item))
	require.NoError(t, store.CreateResult(ctx, builder.Result{
		ID:              "r1",
		ItemID:          "d1",
		UserInputs:      json.RawMessage(`{"q1":"b"}`),
		ComputedOutputs: json.RawMessage(`{"score":1}`),
		CreatedAt:       base,
	}))

	require.NoError(t, store.DeleteItem(ctx, "d1"))

	_, err := store.GetItem(ctx, "d1")
	assert.ErrorIs(t, err, builder.ErrNotFound)
	results, err := store.ListResults(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, results)
	page, err := store.ListItems(ctx, builder.ItemQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	assert.ErrorIs(t, store.DeleteItem(ctx, "d1"), builder.ErrNotFound)
}

func testListOrderAndFilters(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	items := []builder.Item{
		newItem("b", "user-1", builder.TypeQuiz, builder.StatusPublished, 2*time.Minute),
		newItem("a", "user-2", builder.TypeQuiz, builder.StatusDraft, 2*time.Minute),
		newItem("c", "user-1", builder.TypeCalculator, builder.StatusDraft, 3*time.Minute),
		newItem("d", "user-2", builder.TypeTemplate, builder.StatusPublished, time.Minute),
	}
	items[2].Title = "Sales Calc"
	for _, item := range items {
		require.NoError(t, store.CreateItem(ctx, item))
	}

	tests := []struct {
		name  string
		query builder.ItemQuery
		want  []string
	}{
		{name: "all", query: builder.ItemQuery{}, want: []string{"c", "a", "b", "d"}},
		{name: "type", query: builder.ItemQuery{Type: builder.TypeQuiz}, want: []string{"a", "b"}},
		{name: "owner", query: builder.ItemQuery{OwnerID: "user-1"}, want: []string{"c", "b"}},
		{name: "owner and type", query: builder.ItemQuery{OwnerID: "user-2", Type: builder.TypeTemplate}, want: []string{"d"}},
		{name: "status", query: builder.ItemQuery{Status: builder.StatusPublished}, want: []string{"b", "d"}},
		{name: "search", query: builder.ItemQuery{SearchFold: builder.Fold("sales")}, want: []string{"c"}},
		{name: "no match", query: builder.ItemQuery{OwnerID: "user-3"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.ListItems(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Items))
			assert.Nil(t, page.Next)
		})
	}
}

func testListPagination(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	for i := 0; i < 5; i++ {
		// Pairs share a timestamp so ties are exercised.
		item := newItem(fmt.Sprintf("p%d", i), "user-1", builder.TypeTemplate, builder.StatusDraft, time.Duration(i/2)*time.Second)
		require.NoError(t, store.CreateItem(ctx, item))
	}

	var got []string
	query := builder.ItemQuery{PageSize: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5, "pagination did not terminate")
		page, err := store.ListItems(ctx, query)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page.Items), 2)
		got = append(got, ids(page.Items)...)
		if page.Next == nil {
			break
		}
		query.After = page.Next
	}
	assert.Equal(t, []string{"p4", "p2", "p3", "p0", "p1"}, got)
}

func testConfigurations(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	cfgs := []builder.Configuration{
		{ID: "c2", Title: "Styling", Document: json.RawMessage(`{"theme":"dark"}`), Categories: []string{"styling/dark", "styling"}, OwnerID: "user-1", CreatedAt: base, UpdatedAt: base},
		{ID: "c1", Title: "Fields", Document: json.RawMessage(`[{"name":"price"}]`), Categories: []string{}, OwnerID: "user-2", CreatedAt: base, UpdatedAt: base},
	}
	for _, cfg := range cfgs {
		require.NoError(t, store.CreateConfiguration(ctx, cfg))
	}

	got, err := store.GetConfiguration(ctx, "c2")
	require.NoError(t, err)
	if diff := cmp.Diff(cfgs[0], got); diff != "" {
		t.Fatalf("configuration mismatch (-want +got):\n%s", diff)
	}

	list, err := store.ListConfigurations(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]builder.Configuration{cfgs[1], cfgs[0]}, list); diff != "" {
		t.Fatalf("configuration list mismatch (-want +got):\n%s", diff)
	}

	existing, err := store.ExistingConfigurations(ctx, []string{"c1", "nope", "c2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"c1": true, "c2": true}, existing)

	require.NoError(t, store.DeleteConfiguration(ctx, "c1"))
	_, err = store.GetConfiguration(ctx, "c1")
	assert.ErrorIs(t, err, builder.ErrNotFound)
	assert.ErrorIs(t, store.DeleteConfiguration(ctx, "c1"), builder.ErrNotFound)

	existing, err = store.ExistingConfigurations(ctx, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"c2": true}, existing)
}

func testListByCategory(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	items := []builder.Item{
		newItem("loan", "user-1", builder.TypeCalculator, builder.StatusDraft, 3*time.Minute),
		newItem("tax", "user-1", builder.TypeCalculator, builder.StatusPublished, 2*time.Minute),
		newItem("bmi", "user-2", builder.TypeCalculator, builder.StatusDraft, time.Minute),
		newItem("finance-quiz", "user-2", builder.TypeQuiz, builder.StatusDraft, 0),
	}
	items[0].Categories = []string{"finance/loans"}
	items[1].Categories = []string{"gov", "finance/tax"}
	items[2].Categories = []string{"health"}
	items[3].Categories = []string{"financed"}
	for _, item := range items {
		require.NoError(t, store.CreateItem(ctx, item))
	}

	tests := []struct {
		name  string
		query builder.ItemQuery
		want  []string
	}{
		{name: "subtree", query: builder.ItemQuery{Category: "finance"}, want: []string{"loan", "tax"}},
		{name: "leaf", query: builder.ItemQuery{Category: "finance/tax"}, want: []string{"tax"}},
		{name: "second category", query: builder.ItemQuery{Category: "gov"}, want: []string{"tax"}},
		{name: "name prefix is not a parent", query: builder.ItemQuery{Category: "financed"}, want: []string{"finance-quiz"}},
		{name: "with owner", query: builder.ItemQuery{Category: "finance", OwnerID: "user-2"}, want: []string{}},
		{name: "with status", query: builder.ItemQuery{Category: "finance", Status: builder.StatusPublished}, want: []string{"tax"}},
		{name: "unknown", query: builder.ItemQuery{Category: "sports"}, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := store.ListItems(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Items))
		})
	}

	moved := items[0]
	moved.Categories = []string{"health/loans"}
	moved.Revision = 2
	require.NoError(t, store.UpdateItem(ctx, moved, 1))
	page, err := store.ListItems(ctx, builder.ItemQuery{Category: "finance"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tax"}, ids(page.Items))
	page, err = store.ListItems(ctx, builder.ItemQuery{Category: "health"})
	require.NoError(t, err)
	assert.Equal(t, []string{"loan", "bmi"}, ids(page.Items))
}

func testKnowledge(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	entries := []builder.KnowledgeEntry{
		{ID: "k2", Title: "Tax rates", Content: `{"vat":0.2}`, OwnerID: "user-1", CreatedAt: base, UpdatedAt: base},
		{ID: "k1", Title: "Formulas", Content: "class Amortization {}", OwnerID: "user-2", CreatedAt: base, UpdatedAt: base},
	}
	for _, entry := range entries {
		require.NoError(t, store.CreateKnowledge(ctx, entry))
	}

	got, err := store.GetKnowledge(ctx, "k2")
	require.NoError(t, err)
	if diff := cmp.Diff(entries[0], got); diff != "" {
		t.Fatalf("knowledge entry mismatch (-want +got):\n%s", diff)
	}

	list, err := store.ListKnowledge(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]builder.KnowledgeEntry{entries[1], entries[0]}, list); diff != "" {
		t.Fatalf("knowledge list mismatch (-want +got):\n%s", diff)
	}

	existing, err := store.ExistingKnowledge(ctx, []string{"k1", "nope", "k2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"k1": true, "k2": true}, existing)

	require.NoError(t, store.DeleteKnowledge(ctx, "k1"))
	_, err = store.GetKnowledge(ctx, "k1")
	assert.ErrorIs(t, err, builder.ErrNotFound)
	assert.ErrorIs(t, store.DeleteKnowledge(ctx, "k1"), builder.ErrNotFound)

	existing, err = store.ExistingKnowledge(ctx, []string{"k1", "k2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"k2": true}, existing)
}

func testResultsRequireItem(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	result := builder.Result{
		ID:              "orphan",
		ItemID:          "nobody",
		UserInputs:      json.RawMessage(`{}`),
		ComputedOutputs: json.RawMessage(`{}`),
		CreatedAt:       base,
	}
	assert.ErrorIs(t, store.CreateResult(ctx, result), builder.ErrNotFound)

	require.NoError(t, store.CreateItem(ctx, newItem("gone", "user-1", builder.TypeQuiz, builder.StatusPublished, 0)))
	require.NoError(t, store.DeleteItem(ctx, "gone"))
	result.ItemID = "gone"
	assert.ErrorIs(t, store.CreateResult(ctx, result), builder.ErrNotFound)

	results, err := store.ListResults(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testResults(t *testing.T, open Opener) {
	ctx := context.Background()
	store := openStore(t, open)

	require.NoError(t, store.CreateItem(ctx, newItem("q1", "user-1", builder.TypeQuiz, builder.StatusPublished, 0)))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateResult(ctx, builder.Result{
			ID:              fmt.Sprintf("r%d", i),
			ItemID:          "q1",
			UserInputs:      json.RawMessage(fmt.Sprintf(`{"answer":%d}`, i)),
			ComputedOutputs: json.RawMessage(`{"score":0}`),
			SubmittedBy:     "user-2",
			CreatedAt:       base.Add(time.Duration(i) * time.Second),
		}))
	}

	results, err := store.ListResults(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("r%d", i), r.ID)
		assert.Equal(t, "q1", r.ItemID)
		assert.JSONEq(t, fmt.Sprintf(`{"answer":%d}`, i), string(r.UserInputs))
		assert.Equal(t, "user-2", r.SubmittedBy)
	}

	results, err = store.ListResults(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func ids(items []builder.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}
