package sqlstore

import (
	"database/sql"
	"strings"
	"time"
)

func rowsChanged(result sql.Result) (bool, error) {
	if result == nil {
		return false, nil
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

// leastRecentlyCheckedOrder puts rows never checked first, then orders by the
// last check and finally by the column given as its only argument.
const leastRecentlyCheckedOrder = "?TableAlias.last_checked_at IS NOT NULL, ?TableAlias.last_checked_at ASC, ?TableAlias.? ASC"
