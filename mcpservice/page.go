package mcpservice

import "strconv"

// Page is one slice of a cursor-paginated listing.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

func parseCursor(cursor string) int {
	if cursor == "" {
		return 0
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func paginate[T any](all []T, cursor string, size int) Page[T] {
	start := parseCursor(cursor)
	if start > len(all) {
		start = len(all)
	}
	end := min(start+size, len(all))
	items := make([]T, end-start)
	copy(items, all[start:end])
	p := Page[T]{Items: items}
	if end < len(all) {
		p.NextCursor = strconv.Itoa(end)
	}
	return p
}
