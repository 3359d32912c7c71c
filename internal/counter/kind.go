// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package counter

import (
	"fmt"
	"strings"
)

// Kind is one counter column of the threads table.
type Kind struct {
	// Name is the column and the Redis key segment.
	Name string
	// Delta kinds are summed; the others are recounted from Source.
	Delta bool
	// Source counts rows per thread for recompute kinds, joined against
	// the changed ids as ids(id).
	Source string
}

var (
	ViewCount = Kind{Name: "view_count", Delta: true}

	ReactionCount = Kind{
		Name:   "reaction_count",
		Source: "LEFT JOIN reactions src ON src.thread_id = ids.id",
	}

	CommentCount = Kind{
		Name:   "comment_count",
		Source: "LEFT JOIN comments src ON src.thread_id = ids.id AND src.deleted_at IS NULL",
	}
)

// Kinds returns every counter kind.
func Kinds() []Kind {
	return []Kind{ViewCount, ReactionCount, CommentCount}
}

// deltaSQL builds
//
//	UPDATE threads SET view_count = view_count + CASE id WHEN $1 THEN $2 ... END
//	WHERE id IN ($1, $3, ...)
//
// with ids and deltas interleaved in args.
func deltaSQL(k Kind, ids []int64, deltas []int64) (string, []any) {
	var (
		b     strings.Builder
		in    = make([]string, len(ids))
		args  = make([]any, 0, 2*len(ids))
		param = 0
	)
	fmt.Fprintf(&b, "UPDATE threads SET %s = %s + CASE id", k.Name, k.Name)
	for i, id := range ids {
		param += 2
		fmt.Fprintf(&b, " WHEN $%d::bigint THEN $%d::bigint", param-1, param)
		in[i] = fmt.Sprintf("$%d::bigint", param-1)
		args = append(args, id, deltas[i])
	}
	fmt.Fprintf(&b, " ELSE 0 END WHERE id IN (%s)", strings.Join(in, ", "))
	return b.String(), args
}

// recomputeSQL builds an UPDATE joined to a derived table counting source
// rows for each changed id. Ids with no source rows are set to zero.
func recomputeSQL(k Kind, ids []int64) (string, []any) {
	values := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		values[i] = fmt.Sprintf("($%d::bigint)", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`UPDATE threads t SET %[1]s = c.cnt
		FROM (SELECT ids.id, COUNT(src.id) AS cnt
			FROM (VALUES %[2]s) AS ids(id) %[3]s
			GROUP BY ids.id) AS c
		WHERE t.id = c.id`, k.Name, strings.Join(values, ", "), k.Source)
	return query, args
}
