package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Rejection lists every rule a record violated. Reasons use the internal
// column names.
type Rejection struct {
	Entity  string
	ID      string
	Reasons []string
}

func (r *Rejection) Error() string {
	id := r.ID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("%s %s rejected: %s", r.Entity, id, strings.Join(r.Reasons, "; "))
}

// Result is either an accepted record or a rejection. Warnings may be present
// in both cases.
type Result[T any] struct {
	Record    T
	Rejection *Rejection
	Warnings  []string
}

func (r Result[T]) OK() bool {
	return r.Rejection == nil
}

func Ok[T any](record T, warnings []string) Result[T] {
	return Result[T]{Record: record, Warnings: warnings}
}

func Rejected[T any](rejection *Rejection, warnings []string) Result[T] {
	return Result[T]{Rejection: rejection, Warnings: warnings}
}

// tolerance for the amount coherence checks: one cent.
var tolerance = decimal.New(1, -2)

type collector struct {
	entity   string
	id       string
	reasons  []string
	warnings []string
}

func newCollector(entity string) *collector {
	return &collector{entity: entity}
}

func (c *collector) reject(format string, args ...any) {
	c.reasons = append(c.reasons, fmt.Sprintf(format, args...))
}

func (c *collector) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *collector) failed() bool {
	return len(c.reasons) > 0
}

func (c *collector) rejection() *Rejection {
	return &Rejection{Entity: c.entity, ID: c.id, Reasons: c.reasons}
}

func result[T any](c *collector, record T) Result[T] {
	if c.failed() {
		return Rejected[T](c.rejection(), c.warnings)
	}
	return Ok(record, c.warnings)
}

// IsSentinel reports whether s is empty or a placeholder such as "null" or
// "None" left behind by upstream exports.
func IsSentinel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none":
		return true
	}
	return false
}

// optionalString trims and maps sentinels to nil.
func optionalString(s *string) *string {
	if s == nil || IsSentinel(*s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// requiredString returns the trimmed value or "" when absent.
func requiredString(s *string) string {
	if s == nil || IsSentinel(*s) {
		return ""
	}
	return strings.TrimSpace(*s)
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
