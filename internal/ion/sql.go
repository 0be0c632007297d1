package ion

import (
	"fmt"
	"strings"

	"github.com/marcusv/ionbridge/internal/domain"
)

// QueryFilters narrows a count or page query. WarehouseID is required;
// the rest are optional.
type QueryFilters struct {
	WarehouseID string
	DateFrom    string
	DateTo      string
	TaskType    string
}

// BuildCountQuery returns the COUNT(*) statement for an entity under the
// given filters. The count plans the paging loop; an unusable count is
// fatal to the job.
func BuildCountQuery(e domain.Entity, f QueryFilters) string {
	return fmt.Sprintf("SELECT COUNT(*) AS CNT FROM %s%s", e.Table, whereClause(e, f))
}

// BuildPageQuery returns one page window of an entity, ordered by the
// natural key so that paging is deterministic.
// Parameters:
//   - e: entity definition.
//   - f: query filters.
//   - offset: zero-based row offset.
//   - limit: maximum rows to return.
//
// Returns:
//   - string: SQL statement for the page.
func BuildPageQuery(e domain.Entity, f QueryFilters, offset, limit int64) string {
	return fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s LIMIT %d OFFSET %d",
		e.Table, whereClause(e, f), e.OrderBy(), limit, offset)
}

func whereClause(e domain.Entity, f QueryFilters) string {
	var conds []string

	if f.WarehouseID != "" {
		conds = append(conds, fmt.Sprintf("WHSEID = '%s'", escape(f.WarehouseID)))
	}
	if f.DateFrom != "" && e.DateFilterField != "" {
		conds = append(conds, fmt.Sprintf("%s >= '%s'", e.DateFilterField, escape(f.DateFrom)))
	}
	if f.DateTo != "" && e.DateFilterField != "" {
		conds = append(conds, fmt.Sprintf("%s <= '%s'", e.DateFilterField, escape(f.DateTo)))
	}
	if f.TaskType != "" && e.TaskTypeField != "" {
		conds = append(conds, fmt.Sprintf("%s = '%s'", e.TaskTypeField, escape(f.TaskType)))
	}

	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// escape doubles single quotes in literal values. The Compass API accepts
// only read statements, so quoting is about correctness, not injection into
// a writable store.
func escape(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
