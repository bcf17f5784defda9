package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SourceRecord is a single incoming row from a batch file, keyed by
// normalized column name. Missing fields read as the empty string, which the
// classifier treats as distinct from any non-empty stored value.
type SourceRecord map[string]string

// Get returns the trimmed value for a field, or "" when absent.
func (r SourceRecord) Get(field string) string {
	return strings.TrimSpace(r[field])
}

// Clone returns an independent copy of the record.
func (r SourceRecord) Clone() SourceRecord {
	out := make(SourceRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FieldRoles assigns each dimension column a change-handling role. Changing a
// tracked field opens a new version; changing an in-place field mutates the
// current version.
type FieldRoles struct {
	BusinessKey string
	Tracked     []string
	InPlace     []string
}

// DefaultFieldRoles returns the customer dimension layout.
func DefaultFieldRoles() FieldRoles {
	return FieldRoles{
		BusinessKey: "customer_id",
		Tracked:     []string{"company_name"},
		InPlace:     []string{"first_name", "last_name", "email", "phone"},
	}
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks that the role assignment is usable: a business key is set,
// every name is a plain lowercase SQL identifier, and no column carries two
// roles. Role names end up in generated SQL, so this is also the injection
// guard.
func (f FieldRoles) Validate() error {
	if strings.TrimSpace(f.BusinessKey) == "" {
		return fmt.Errorf("field roles: business key is required")
	}
	if len(f.Tracked) == 0 {
		return fmt.Errorf("field roles: at least one tracked field is required")
	}

	seen := map[string]string{}
	check := func(name, role string) error {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("field roles: %q is not a valid column name", name)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("field roles: column %q assigned to both %s and %s", name, prev, role)
		}
		seen[name] = role
		return nil
	}

	if err := check(f.BusinessKey, "business_key"); err != nil {
		return err
	}
	for _, name := range f.Tracked {
		if err := check(name, "tracked"); err != nil {
			return err
		}
	}
	for _, name := range f.InPlace {
		if err := check(name, "inplace"); err != nil {
			return err
		}
	}
	return nil
}

// AttributeColumns returns the tracked columns followed by the in-place
// columns, in declaration order.
func (f FieldRoles) AttributeColumns() []string {
	cols := make([]string, 0, len(f.Tracked)+len(f.InPlace))
	cols = append(cols, f.Tracked...)
	cols = append(cols, f.InPlace...)
	return cols
}

// Columns returns every source-facing column: business key first, then
// tracked, then in-place.
func (f FieldRoles) Columns() []string {
	return append([]string{f.BusinessKey}, f.AttributeColumns()...)
}

// CustomerVersion is one row of the dimension table. ValidUntil is nil while
// the version is current.
type CustomerVersion struct {
	SurrogateID int64             `json:"surrogate_id"`
	BusinessKey string            `json:"business_key"`
	Attributes  map[string]string `json:"attributes"`
	ValidFrom   time.Time         `json:"valid_from"`
	ValidUntil  *time.Time        `json:"valid_until,omitempty"`
	IsCurrent   bool              `json:"is_current"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Attribute returns the stored value for a column, with NULLs read as "".
func (v CustomerVersion) Attribute(column string) string {
	return v.Attributes[column]
}
