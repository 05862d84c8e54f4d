package builder

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ItemQuery selects items from a Store. Zero-valued fields do not restrict
// the result.
type ItemQuery struct {
	Type       ItemType
	OwnerID    string
	Status     Status
	SearchFold string // case-folded substring of the title, see Fold
	Category   string // normalized category path; descendants match too
	PageSize   int
	After      *Position // nil starts from the first item
}

// Position is a keyset position in list order: most recently updated first,
// ties broken by ascending id.
type Position struct {
	UpdatedAt time.Time
	ID        string
}

// ItemPage is one page of a list query. Next is nil on the last page.
type ItemPage struct {
	Items []Item
	Next  *Position
}

// Fold normalizes text for case-insensitive title search.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// PositionOf returns the list position of item.
func PositionOf(item Item) Position {
	return Position{UpdatedAt: item.UpdatedAt, ID: item.ID}
}

// Match reports whether item satisfies every restriction of q except
// pagination.
func (q ItemQuery) Match(item Item) bool {
	if q.Type != "" && item.Type != q.Type {
		return false
	}
	if q.OwnerID != "" && item.OwnerID != q.OwnerID {
		return false
	}
	if q.Status != "" && item.Status != q.Status {
		return false
	}
	if q.SearchFold != "" && !strings.Contains(Fold(item.Title), q.SearchFold) {
		return false
	}
	if q.Category != "" && !InCategory(item.Categories, q.Category) {
		return false
	}
	return true
}

// ListOrderLess reports whether a sorts before b in list order.
func ListOrderLess(a, b Item) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// SortItems sorts items in list order.
func SortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return ListOrderLess(items[i], items[j]) })
}

// Precedes reports whether item comes strictly after p in list order.
func (p Position) Precedes(item Item) bool {
	return ListOrderLess(Item{UpdatedAt: p.UpdatedAt, ID: p.ID}, item)
}

// Paginate applies q's keyset position and page size to items, which must
// already be filtered and sorted in list order.
func (q ItemQuery) Paginate(items []Item) ItemPage {
	start := 0
	if q.After != nil {
		start = sort.Search(len(items), func(i int) bool { return q.After.Precedes(items[i]) })
	}
	items = items[start:]
	if q.PageSize <= 0 || len(items) <= q.PageSize {
		return ItemPage{Items: items}
	}
	last := PositionOf(items[q.PageSize-1])
	return ItemPage{Items: items[:q.PageSize], Next: &last}
}
