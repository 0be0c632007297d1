package domain

import (
	"fmt"
	"sort"
	"strings"
)

// RawRow is one flat result row from the remote SQL API. Dates and numbers
// arrive string-typed and are coerced by the transformer.
type RawRow map[string]interface{}

// Document is a storage-ready record: a transformed row plus sync metadata.
type Document map[string]interface{}

// Sync metadata fields stamped on every synced document.
const (
	FieldSyncDate   = "_syncDate"
	FieldSyncStatus = "_syncStatus"
	FieldSyncJobID  = "_syncJobId"

	SyncStatusSynced = "synced"
)

// Entity describes one syncable warehouse table: where it lives remotely,
// which composite natural key identifies a record, and which columns need
// type coercion on the way in.
type Entity struct {
	// Name is the entity identifier used in API requests and job records.
	Name string
	// Table is the fully qualified remote table name.
	Table string
	// Collection is the target MongoDB collection.
	Collection string
	// KeyFields is the composite natural key, in order. Upserts match on
	// these fields, never on the store's autogenerated id.
	KeyFields []string
	// DateFields are coerced string -> time.Time (non-fatal on failure).
	DateFields []string
	// NumericFields are coerced string -> float64 (non-fatal on failure).
	NumericFields []string
	// TaskTypeField, when set, supports the task-type filter.
	TaskTypeField string
	// DateFilterField is the column the date-range filter applies to.
	DateFilterField string
}

// OrderBy returns the deterministic ordering clause for paged queries.
// Paging is only meaningful with a stable order on the natural key.
func (e Entity) OrderBy() string {
	return strings.Join(e.KeyFields, ", ")
}

// entities is the compile-time-known set of syncable tables.
var entities = map[string]Entity{
	"taskdetail": {
		Name:            "taskdetail",
		Table:           "CSWMS_wmwhse_TASKDETAIL",
		Collection:      "taskdetails",
		KeyFields:       []string{"WHSEID", "TASKDETAILKEY"},
		DateFields:      []string{"ADDDATE", "EDITDATE", "STARTTIME", "ENDTIME", "RELEASEDATE"},
		NumericFields:   []string{"QTY", "UOMQTY"},
		TaskTypeField:   "TASKTYPE",
		DateFilterField: "ADDDATE",
	},
	"orders": {
		Name:            "orders",
		Table:           "CSWMS_wmwhse_ORDERS",
		Collection:      "orders",
		KeyFields:       []string{"WHSEID", "ORDERKEY"},
		DateFields:      []string{"ORDERDATE", "ADDDATE", "EDITDATE", "REQUESTEDSHIPDATE", "ACTUALSHIPDATE"},
		NumericFields:   []string{"TOTALQTY", "TOTALOPENQTY", "TOTALSHIPPEDQTY"},
		DateFilterField: "ORDERDATE",
	},
	"pickdetail": {
		Name:            "pickdetail",
		Table:           "CSWMS_wmwhse_PICKDETAIL",
		Collection:      "pickdetails",
		KeyFields:       []string{"WHSEID", "PICKDETAILKEY"},
		DateFields:      []string{"ADDDATE", "EDITDATE"},
		NumericFields:   []string{"QTY"},
		DateFilterField: "ADDDATE",
	},
	"receipt": {
		Name:            "receipt",
		Table:           "CSWMS_wmwhse_RECEIPTDETAIL",
		Collection:      "receipts",
		KeyFields:       []string{"WHSEID", "RECEIPTKEY", "RECEIPTLINENUMBER"},
		DateFields:      []string{"DATERECEIVED", "ADDDATE", "EDITDATE"},
		NumericFields:   []string{"QTYEXPECTED", "QTYRECEIVED"},
		DateFilterField: "DATERECEIVED",
	},
}

// LookupEntity resolves an entity by name.
// Parameters:
//   - name: entity identifier (e.g. "taskdetail").
//
// Returns:
//   - Entity: the entity definition.
//   - error: non-nil if the name is unknown.
func LookupEntity(name string) (Entity, error) {
	e, ok := entities[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Entity{}, fmt.Errorf("unknown entity: %q", name)
	}
	return e, nil
}

// EntityNames returns the sorted list of supported entity names.
func EntityNames() []string {
	names := make([]string, 0, len(entities))
	for name := range entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
