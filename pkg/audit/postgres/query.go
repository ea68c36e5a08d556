package postgres

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/auditcore/pkg/audit"
)

// conditions accumulates WHERE clauses and their positional arguments
type conditions struct {
	clauses []string
	args    []interface{}
}

// arg appends a positional argument and returns its placeholder
func (c *conditions) arg(v interface{}) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

func (c *conditions) add(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) eq(column, value string) {
	if value != "" {
		c.add(column + " = " + c.arg(value))
	}
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func window(start, end time.Time) *conditions {
	c := &conditions{}
	c.add("timestamp >= " + c.arg(start))
	c.add("timestamp < " + c.arg(end))
	return c
}

// buildConditions translates criteria filters into SQL. Map filters are
// emitted in key order so the generated statement is stable.
func buildConditions(criteria audit.Criteria) *conditions {
	c := &conditions{}
	if criteria.Start != nil {
		c.add("timestamp >= " + c.arg(*criteria.Start))
	}
	if criteria.End != nil {
		c.add("timestamp < " + c.arg(*criteria.End))
	}
	c.eq("user_id", criteria.UserID)
	c.eq("resource_type", criteria.ResourceType)
	c.eq("resource_id", criteria.ResourceID)
	c.eq("action", string(criteria.Action))
	c.eq("severity", string(criteria.Severity))
	c.eq("service_name", criteria.ServiceName)
	c.eq("category", criteria.Category)
	c.eq("ip_address", criteria.IPAddress)
	c.eq("correlation_id", criteria.CorrelationID)
	c.eq("session_id", criteria.SessionID)
	c.eq("tenant_id", criteria.TenantID)

	if criteria.Success != nil {
		c.add("success = " + c.arg(*criteria.Success))
	}
	if len(criteria.Actions) > 0 {
		actions := make([]string, len(criteria.Actions))
		for i, a := range criteria.Actions {
			actions[i] = string(a)
		}
		c.add("action = ANY(" + c.arg(pq.Array(actions)) + ")")
	}
	for _, k := range sortedKeys(criteria.Tags) {
		c.add("tags ->> " + c.arg(k) + " = " + c.arg(criteria.Tags[k]))
	}
	for _, k := range sortedKeys(criteria.Metadata) {
		c.add("metadata ->> " + c.arg(k) + " = " + c.arg(criteria.Metadata[k]))
	}
	return c
}

// sortColumns maps accepted sort fields to SQL expressions
var sortColumns = map[string]string{
	"timestamp":    "timestamp",
	"action":       "action",
	"severity":     "severity_level",
	"service_name": "service_name",
	"category":     "category",
	"user_id":      "user_id",
	"http_status":  "http_status",
	"duration_ms":  "COALESCE(duration_ms, -1)",
}

func orderBy(criteria audit.Criteria) string {
	column, ok := sortColumns[criteria.SortField]
	if !ok {
		column = sortColumns[audit.DefaultSortField]
	}
	direction := "DESC"
	if criteria.SortDirection == audit.SortAsc {
		direction = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", column, direction, direction)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
