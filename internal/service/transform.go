package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcusv/ionbridge/internal/domain"
)

// dateLayouts are the timestamp formats the Compass API emits, tried in
// order.
var dateLayouts = []string{
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// Transform converts a raw result row into a storage-ready document:
// string-typed date and numeric columns are coerced per the entity
// definition, and sync metadata is stamped. Coercion failures are lossy but
// non-fatal; the original value passes through and a warning is returned
// for the caller to log.
// Parameters:
//   - e: entity definition (date/numeric field lists).
//   - row: raw row from the remote API.
//   - jobID: advisory sync job tag.
//   - now: write timestamp (injected to keep the function pure).
//
// Returns:
//   - domain.Document: transformed document.
//   - []string: warnings for fields that failed coercion.
func Transform(e domain.Entity, row domain.RawRow, jobID string, now time.Time) (domain.Document, []string) {
	doc := make(domain.Document, len(row)+3)
	var warnings []string

	for k, v := range row {
		doc[k] = v
	}

	for _, field := range e.DateFields {
		raw, ok := doc[field].(string)
		if !ok || raw == "" {
			continue
		}
		parsed, err := parseDate(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("field %s: unparseable date %q", field, raw))
			continue
		}
		doc[field] = parsed
	}

	for _, field := range e.NumericFields {
		raw, ok := doc[field].(string)
		if !ok || raw == "" {
			continue
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("field %s: unparseable number %q", field, raw))
			continue
		}
		doc[field] = parsed
	}

	doc[domain.FieldSyncDate] = now
	doc[domain.FieldSyncStatus] = domain.SyncStatusSynced
	if jobID != "" {
		doc[domain.FieldSyncJobID] = jobID
	}

	return doc, warnings
}

func parseDate(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matched %q", raw)
}
