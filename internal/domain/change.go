package domain

// ChangeKind classifies an incoming record against the current version of
// its business key.
type ChangeKind string

const (
	// ChangeNew means no version exists for the business key yet.
	ChangeNew ChangeKind = "NEW"
	// ChangeVersioned means at least one tracked attribute differs; the
	// current version must be closed and a new one opened.
	ChangeVersioned ChangeKind = "VERSIONED_CHANGE"
	// ChangeInPlace means only in-place attributes differ; the current
	// version is mutated without versioning.
	ChangeInPlace ChangeKind = "INPLACE_CHANGE"
	// ChangeNone means the record matches the current version exactly.
	ChangeNone ChangeKind = "NO_CHANGE"
)

// Classify compares an incoming record to the current version and picks the
// transition to apply. current is nil when the business key has never been
// loaded. Comparison is exact string equality; an empty or missing value is
// distinct from any non-empty one. A tracked-attribute change wins over an
// in-place change, so a record that changes both yields ChangeVersioned and
// the replacement version carries all incoming values.
func Classify(incoming SourceRecord, current *CustomerVersion, roles FieldRoles) ChangeKind {
	if current == nil {
		return ChangeNew
	}

	for _, field := range roles.Tracked {
		if incoming.Get(field) != current.Attribute(field) {
			return ChangeVersioned
		}
	}

	for _, field := range roles.InPlace {
		if incoming.Get(field) != current.Attribute(field) {
			return ChangeInPlace
		}
	}

	return ChangeNone
}
