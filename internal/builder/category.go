package builder

import "strings"

// CategorySeparator joins the segments of a category path.
const CategorySeparator = "/"

// NormalizeCategory returns the canonical form of a category path: every
// segment trimmed, case-folded and with inner whitespace collapsed to single
// hyphens. "Finance / Sales Tax" becomes "finance/sales-tax".
func NormalizeCategory(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", validationf("category is empty")
	}
	segments := strings.Split(path, CategorySeparator)
	for i, seg := range segments {
		seg = strings.Join(strings.Fields(Fold(seg)), "-")
		if seg == "" {
			return "", validationf("category %q has an empty segment", path)
		}
		segments[i] = seg
	}
	return strings.Join(segments, CategorySeparator), nil
}

// CategoryAncestors returns every prefix path of a normalized category,
// root first and ending with the category itself.
func CategoryAncestors(path string) []string {
	var out []string
	for i := 0; i < len(path); i++ {
		if path[i] == CategorySeparator[0] {
			out = append(out, path[:i])
		}
	}
	return append(out, path)
}

// InCategory reports whether any of categories is category or one of its
// descendants.
func InCategory(categories []string, category string) bool {
	for _, c := range categories {
		if c == category || strings.HasPrefix(c, category+CategorySeparator) {
			return true
		}
	}
	return false
}

// normalizeCategories normalizes paths and drops repeats, keeping the order
// of first appearance.
func normalizeCategories(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		c, err := NormalizeCategory(path)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}
