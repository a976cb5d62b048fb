package httpx

import (
	"net/http"
	"strconv"
)

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}

// ParseLimitOffset reads ?limit= and ?offset=. Missing or malformed values fall back to
// defLimit and 0; limit is clamped to [1, maxLimit] and offset to >= 0.
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int) {
	maxLimit = max(maxLimit, 1)
	limit := min(max(queryInt(r, "limit", defLimit), 1), maxLimit)
	offset := max(queryInt(r, "offset", 0), 0)
	return limit, offset
}
