package model

// Category is the restriction class a record belongs to.
// The store keys records by category; each category maps to one
// lock/unlock strategy in the engine.
type Category string

const (
	NetworkAdapter Category = "network_adapter"
	ProtectedFile  Category = "protected_file"
	SystemPolicy   Category = "system_policy"
)

// Categories lists all managed categories in stable order.
var Categories = []Category{NetworkAdapter, ProtectedFile, SystemPolicy}

// Valid reports whether c is one of the managed categories.
func (c Category) Valid() bool {
	switch c {
	case NetworkAdapter, ProtectedFile, SystemPolicy:
		return true
	}
	return false
}

// RestrictionRecord identifies one applied lock. Existence of a record
// in the state store is the sole source of truth that the lock is
// active for that (resource, user) pair.
type RestrictionRecord struct {
	Category Category `json:"category"`
	Key      string   `json:"resource_key"`
	User     string   `json:"user"`
}

// Target names one resource to lock or unlock. The engine resolves it
// to the category-specific primitive calls.
type Target struct {
	Category Category
	Key      string
}

// Outcome summarizes a multi-target operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// ItemResult is the per-resource result of an Enable or Disable pass.
type ItemResult struct {
	Record RestrictionRecord
	Err    error
}

// Report collects per-item results for a multi-target operation.
// One failing item does not abort the rest; callers inspect the
// report for the final success/partial/failure summary.
type Report struct {
	Items []ItemResult
}

// Add appends one item result.
func (r *Report) Add(rec RestrictionRecord, err error) {
	r.Items = append(r.Items, ItemResult{Record: rec, Err: err})
}

// Failed returns the items that ended in error.
func (r *Report) Failed() []ItemResult {
	var out []ItemResult
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Outcome reduces the report to success, partial, or failed.
// An empty report is a success (nothing to do).
func (r *Report) Outcome() Outcome {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return OutcomeSuccess
	case failed == len(r.Items):
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}
