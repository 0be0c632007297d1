package ion

import (
	"strings"
	"testing"

	"github.com/marcusv/ionbridge/internal/domain"
)

func mustEntity(t *testing.T, name string) domain.Entity {
	t.Helper()
	e, err := domain.LookupEntity(name)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestBuildCountQuery(t *testing.T) {
	e := mustEntity(t, "taskdetail")

	tests := []struct {
		name    string
		filters QueryFilters
		want    string
	}{
		{
			name:    "warehouse only",
			filters: QueryFilters{WarehouseID: "wmwhse1"},
			want:    "SELECT COUNT(*) AS CNT FROM CSWMS_wmwhse_TASKDETAIL WHERE WHSEID = 'wmwhse1'",
		},
		{
			name: "full filters",
			filters: QueryFilters{
				WarehouseID: "wmwhse1",
				DateFrom:    "2026-01-01",
				DateTo:      "2026-01-31",
				TaskType:    "PK",
			},
			want: "SELECT COUNT(*) AS CNT FROM CSWMS_wmwhse_TASKDETAIL" +
				" WHERE WHSEID = 'wmwhse1' AND ADDDATE >= '2026-01-01' AND ADDDATE <= '2026-01-31' AND TASKTYPE = 'PK'",
		},
		{
			name:    "no filters",
			filters: QueryFilters{},
			want:    "SELECT COUNT(*) AS CNT FROM CSWMS_wmwhse_TASKDETAIL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildCountQuery(e, tt.filters); got != tt.want {
				t.Errorf("BuildCountQuery() =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestBuildPageQuery(t *testing.T) {
	e := mustEntity(t, "orders")
	got := BuildPageQuery(e, QueryFilters{WarehouseID: "wmwhse2"}, 500, 250)
	want := "SELECT * FROM CSWMS_wmwhse_ORDERS WHERE WHSEID = 'wmwhse2'" +
		" ORDER BY WHSEID, ORDERKEY LIMIT 250 OFFSET 500"
	if got != want {
		t.Errorf("BuildPageQuery() =\n  %s\nwant\n  %s", got, want)
	}
}

func TestBuildPageQueryIgnoresTaskTypeWithoutField(t *testing.T) {
	// Only taskdetail supports the task type filter.
	e := mustEntity(t, "orders")
	got := BuildPageQuery(e, QueryFilters{WarehouseID: "wmwhse1", TaskType: "PK"}, 0, 10)
	if strings.Contains(got, "PK") {
		t.Errorf("task type filter leaked into query: %s", got)
	}
}

func TestWhereClauseEscapesQuotes(t *testing.T) {
	e := mustEntity(t, "taskdetail")
	got := BuildCountQuery(e, QueryFilters{WarehouseID: "o'brien"})
	if !strings.Contains(got, "WHSEID = 'o''brien'") {
		t.Errorf("single quote not escaped: %s", got)
	}
}
