package simulation

import "strings"

// ForeignKey declares one remappable reference: the named column points at
// rows of Table within the clone set.
type ForeignKey struct {
	Column string
	Table  string
}

// TableSpec describes one table in the clone set.
type TableSpec struct {
	// Name is the table name, identical in the template and target schemas.
	Name string
	// TenantColumn, when non-empty, is forced to the destination tenant on
	// every restored row.
	TenantColumn string
	// ForeignKeys lists every column that must be remapped through the
	// identity map. Declared explicitly; DeriveForeignKeys exists only to
	// bootstrap this list when a new table is added.
	ForeignKeys []ForeignKey
	// OrderBy fixes the capture order so snapshots of the same data are
	// byte-for-byte stable.
	OrderBy string
}

// RootTable is the table whose rows anchor the dependency graph; its ids are
// allocated first and every other table references it directly or
// transitively.
const RootTable = "patients"

// BarcodeColumn is the externally printed human-readable code on the root
// table. It gets special handling on restore: preserved when a session map
// supplies one, resynthesized otherwise.
const BarcodeColumn = "patient_code"

// CloneSet is the fixed, dependency-ordered list of clinical tables the
// engine captures and restores. Parents come strictly before the tables that
// reference them; deletes run in exact reverse order.
var CloneSet = []TableSpec{
	{
		Name:         "patients",
		TenantColumn: "tenant_id",
		OrderBy:      "patient_code, id",
	},
	{
		Name:         "patient_vitals",
		TenantColumn: "tenant_id",
		ForeignKeys:  []ForeignKey{{Column: "patient_id", Table: "patients"}},
		OrderBy:      "recorded_at, id",
	},
	{
		Name:         "patient_medications",
		TenantColumn: "tenant_id",
		ForeignKeys:  []ForeignKey{{Column: "patient_id", Table: "patients"}},
		OrderBy:      "name, id",
	},
	{
		Name:         "patient_notes",
		TenantColumn: "tenant_id",
		ForeignKeys:  []ForeignKey{{Column: "patient_id", Table: "patients"}},
		OrderBy:      "created_at, id",
	},
	{
		Name:         "patient_allergies",
		TenantColumn: "tenant_id",
		ForeignKeys:  []ForeignKey{{Column: "patient_id", Table: "patients"}},
		OrderBy:      "allergen, id",
	},
	{
		Name:         "lab_panels",
		TenantColumn: "tenant_id",
		ForeignKeys:  []ForeignKey{{Column: "patient_id", Table: "patients"}},
		OrderBy:      "panel_name, id",
	},
	{
		Name:         "lab_results",
		TenantColumn: "tenant_id",
		ForeignKeys: []ForeignKey{
			{Column: "patient_id", Table: "patients"},
			{Column: "panel_id", Table: "lab_panels"},
		},
		OrderBy: "collected_at, id",
	},
	{
		Name:         "body_locations",
		TenantColumn: "tenant_id",
		ForeignKeys:  []ForeignKey{{Column: "patient_id", Table: "patients"}},
		OrderBy:      "site_code, id",
	},
	{
		Name:         "wound_assessments",
		TenantColumn: "tenant_id",
		ForeignKeys: []ForeignKey{
			{Column: "patient_id", Table: "patients"},
			{Column: "location_id", Table: "body_locations"},
		},
		OrderBy: "assessed_at, id",
	},
	{
		Name:         "patient_devices",
		TenantColumn: "tenant_id",
		ForeignKeys: []ForeignKey{
			{Column: "patient_id", Table: "patients"},
			{Column: "location_id", Table: "body_locations"},
		},
		OrderBy: "device_type, id",
	},
	{
		Name:         "medication_administrations",
		TenantColumn: "tenant_id",
		ForeignKeys: []ForeignKey{
			{Column: "patient_id", Table: "patients"},
			{Column: "medication_id", Table: "patient_medications"},
		},
		OrderBy: "administered_at, id",
	},
}

// referenceOnlyColumns are foreign-key-shaped columns that point at tables
// outside the clone set (staff, departments, shared reference data). Their
// values pass through restore unchanged and never raise an unmapped warning.
var referenceOnlyColumns = map[string]bool{
	"created_by":    true,
	"updated_by":    true,
	"recorded_by":   true,
	"ordered_by":    true,
	"department_id": true,
	"protocol_id":   true,
}

// ReverseCloneSet returns the clone set in delete order: children first,
// patients last.
func ReverseCloneSet() []TableSpec {
	out := make([]TableSpec, len(CloneSet))
	for i, t := range CloneSet {
		out[len(CloneSet)-1-i] = t
	}
	return out
}

// TableSpecFor returns the spec for a table name, if it is in the clone set.
func TableSpecFor(name string) (TableSpec, bool) {
	for _, t := range CloneSet {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// IsReferenceOnly reports whether a column is on the pass-through allow-list.
func IsReferenceOnly(column string) bool {
	return referenceOnlyColumns[column]
}

// DeriveForeignKeys guesses the foreign keys of a table from the
// "_id"-suffix naming convention, excluding the row's own id, the tenant
// column, and known reference-only columns. It is a one-time bootstrapping
// aid for extending CloneSet, not a per-row runtime decision: the declared
// ForeignKeys lists above are authoritative.
func DeriveForeignKeys(columns []string) []ForeignKey {
	var fks []ForeignKey
	for _, col := range columns {
		if col == "id" || col == "tenant_id" || IsReferenceOnly(col) {
			continue
		}
		if !strings.HasSuffix(col, "_id") {
			continue
		}
		target := strings.TrimSuffix(col, "_id")
		// patient_id → patients; the rest keep the bare stem and need manual
		// review before landing in CloneSet.
		if target == "patient" {
			target = "patients"
		}
		fks = append(fks, ForeignKey{Column: col, Table: target})
	}
	return fks
}
