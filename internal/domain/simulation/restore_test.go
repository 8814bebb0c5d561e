package simulation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/haclabs/haccare/internal/platform/schema"
)

type execCall struct {
	sql  string
	args []interface{}
}

// arg returns the bound value for a column by reading the insert's column
// list, so tests do not depend on placeholder positions.
func (c execCall) arg(t *testing.T, col string) interface{} {
	t.Helper()
	open := strings.Index(c.sql, "(")
	close := strings.Index(c.sql, ")")
	if open < 0 || close < open {
		t.Fatalf("no column list in %q", c.sql)
	}
	for i, name := range strings.Split(c.sql[open+1:close], ", ") {
		if name == col {
			return c.args[i]
		}
	}
	t.Fatalf("column %s not in %q", col, c.sql)
	return nil
}

type fakeExecer struct {
	calls  []execCall
	failOn func(sql string) error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if f.failOn != nil {
		if err := f.failOn(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (f *fakeExecer) callsFor(table string) []execCall {
	var out []execCall
	for _, c := range f.calls {
		if strings.Contains(c.sql, "."+table+" ") {
			out = append(out, c)
		}
	}
	return out
}

// testDescriptor covers the whole clone set with the columns the fixtures
// exercise, so restores never warn about genuinely valid sections.
func testDescriptor(without ...string) schema.Descriptor {
	tables := make(map[string][]schema.ColumnInfo, len(CloneSet))
	for _, spec := range CloneSet {
		cols := []schema.ColumnInfo{
			{Name: "id", DataType: "uuid", UDTName: "uuid"},
			{Name: "tenant_id", DataType: "character varying", UDTName: "varchar"},
		}
		for _, fk := range spec.ForeignKeys {
			cols = append(cols, schema.ColumnInfo{Name: fk.Column, DataType: "uuid", UDTName: "uuid", Nullable: true})
		}
		tables[spec.Name] = cols
	}
	tables["patients"] = append(tables["patients"],
		schema.ColumnInfo{Name: "patient_code", UDTName: "varchar"},
		schema.ColumnInfo{Name: "first_name", UDTName: "varchar"},
		schema.ColumnInfo{Name: "allergies", DataType: "ARRAY", UDTName: "text", IsArray: true},
	)
	tables["patient_vitals"] = append(tables["patient_vitals"],
		schema.ColumnInfo{Name: "recorded_at", UDTName: "timestamptz", Nullable: true},
		schema.ColumnInfo{Name: "heart_rate", UDTName: "int4", Nullable: true},
	)
	for _, name := range without {
		delete(tables, name)
	}
	return schema.NewStatic(tables)
}

func twoTableDoc() *Document {
	doc := NewDocument(Metadata{SourceTenant: "sim_src"})
	doc.Tables["patients"] = []Row{
		{
			"id":           StringValue("old-p1"),
			"patient_code": StringValue("SRC-CODE-1"),
			"first_name":   StringValue("Ana"),
			"allergies":    ListValue([]string{"latex"}),
		},
	}
	doc.Tables["patient_vitals"] = []Row{
		{
			"id":          StringValue("old-v1"),
			"patient_id":  StringValue("old-p1"),
			"heart_rate":  NumberValue("72"),
			"recorded_at": StringValue("2026-03-14T09:30:00Z"),
		},
	}
	return doc
}

func TestRestore_NilDocument(t *testing.T) {
	r := NewRestorer(&fakeExecer{}, testDescriptor(), zerolog.Nop())
	_, err := r.Restore(context.Background(), "sim_dst", nil, nil, Options{})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
}

func TestRestore_RemapsForeignKeys(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	res, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), nil, Options{})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.RowsRestored != 2 {
		t.Fatalf("RowsRestored = %d, want 2 (warnings: %v)", res.RowsRestored, res.Warnings)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}

	patients := exec.callsFor("patients")
	vitals := exec.callsFor("patient_vitals")
	if len(patients) != 1 || len(vitals) != 1 {
		t.Fatalf("inserts = %d patients, %d vitals", len(patients), len(vitals))
	}

	newPatientID := patients[0].arg(t, "id")
	if newPatientID == "old-p1" {
		t.Error("root id carried forward verbatim")
	}
	if got := vitals[0].arg(t, "patient_id"); got != newPatientID {
		t.Errorf("vitals patient_id = %v, want the remapped root id %v", got, newPatientID)
	}
	if got := patients[0].arg(t, "tenant_id"); got != "sim_dst" {
		t.Errorf("tenant_id = %v, want sim_dst", got)
	}
	if !strings.HasPrefix(patients[0].sql, "INSERT INTO tenant_sim_dst.patients ") {
		t.Errorf("insert target = %q", patients[0].sql)
	}
}

func TestRestore_BarcodeNeverCarriedForward(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	if _, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), nil, Options{}); err != nil {
		t.Fatal(err)
	}
	code, _ := exec.callsFor("patients")[0].arg(t, "patient_code").(string)
	if code == "SRC-CODE-1" {
		t.Error("template barcode restored verbatim")
	}
	if len(code) != 6 {
		t.Errorf("fresh code = %q, want 6 digits", code)
	}
}

func TestRestore_PinnedIdentityKeepsBarcode(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	reserved := "11111111-2222-3333-4444-555555555555"
	ids := NewIdentityMap(map[string]string{"old-p1": reserved})

	_, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), ids, Options{PreserveIdentifiers: true})
	if err != nil {
		t.Fatal(err)
	}

	patients := exec.callsFor("patients")[0]
	if got := patients.arg(t, "id"); got != reserved {
		t.Errorf("root id = %v, want the pinned id %s", got, reserved)
	}
	if got := patients.arg(t, "patient_code"); got != BarcodeFor(reserved) {
		t.Errorf("patient_code = %v, want the deterministic code %s", got, BarcodeFor(reserved))
	}
	if got := exec.callsFor("patient_vitals")[0].arg(t, "patient_id"); got != reserved {
		t.Errorf("vitals patient_id = %v, want %s", got, reserved)
	}
}

func TestRestore_RemapsTwoLevelChain(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	doc := NewDocument(Metadata{SourceTenant: "sim_src"})
	doc.Tables["patients"] = []Row{
		{"id": StringValue("old-p1"), "patient_code": StringValue("SRC-CODE-1"), "first_name": StringValue("Ana")},
	}
	doc.Tables["lab_panels"] = []Row{
		{"id": StringValue("old-panel-1"), "patient_id": StringValue("old-p1")},
	}
	doc.Tables["lab_results"] = []Row{
		{"id": StringValue("old-r1"), "patient_id": StringValue("old-p1"), "panel_id": StringValue("old-panel-1")},
	}

	res, err := r.Restore(context.Background(), "sim_dst", doc, nil, Options{})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.RowsRestored != 3 {
		t.Fatalf("RowsRestored = %d, want 3 (warnings: %v)", res.RowsRestored, res.Warnings)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}

	newPatientID := exec.callsFor("patients")[0].arg(t, "id")
	panels := exec.callsFor("lab_panels")[0]
	newPanelID := panels.arg(t, "id")
	if newPanelID == "old-panel-1" {
		t.Error("panel id carried forward verbatim")
	}
	if got := panels.arg(t, "patient_id"); got != newPatientID {
		t.Errorf("panel patient_id = %v, want %v", got, newPatientID)
	}

	// The grandchild must resolve through a mapping minted mid-restore, not
	// one seeded before the run started.
	results := exec.callsFor("lab_results")[0]
	if got := results.arg(t, "panel_id"); got != newPanelID {
		t.Errorf("result panel_id = %v, want the panel's fresh id %v", got, newPanelID)
	}
	if got := results.arg(t, "patient_id"); got != newPatientID {
		t.Errorf("result patient_id = %v, want %v", got, newPatientID)
	}
}

// recordingDescriptor counts Describe calls reaching the restorer's injected
// descriptor.
type recordingDescriptor struct {
	inner schema.Descriptor
	calls int
}

func (d *recordingDescriptor) Describe(ctx context.Context, schemaName, table string) (*schema.TableSchema, error) {
	d.calls++
	return d.inner.Describe(ctx, schemaName, table)
}

func TestRestore_ReintrospectsOnEachCall(t *testing.T) {
	rec := &recordingDescriptor{inner: testDescriptor()}
	r := NewRestorer(&fakeExecer{}, rec, zerolog.Nop())

	if _, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), nil, Options{}); err != nil {
		t.Fatal(err)
	}
	first := rec.calls
	if first == 0 {
		t.Fatal("descriptor never consulted")
	}

	// A second restore against a tenant migrated in between must see its
	// current layout, so the memoization cannot outlive one call.
	if _, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), nil, Options{}); err != nil {
		t.Fatal(err)
	}
	if rec.calls <= first {
		t.Errorf("descriptor calls stayed at %d after a second restore", rec.calls)
	}
}

func TestRestore_SkipRootTable(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	res, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), nil, Options{SkipRootTable: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(exec.callsFor("patients")) != 0 {
		t.Error("root rows inserted despite SkipRootTable")
	}
	if res.RowsRestored != 1 {
		t.Errorf("RowsRestored = %d, want 1", res.RowsRestored)
	}
	// Mapping still accumulated, so the child resolved without a warning.
	if len(res.Warnings) != 0 {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if got := exec.callsFor("patient_vitals")[0].arg(t, "patient_id"); got == "old-p1" {
		t.Error("child reference not remapped")
	}
}

func TestRestore_MissingTableIsWarning(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor("patient_vitals"), zerolog.Nop())

	res, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsRestored != 1 {
		t.Errorf("RowsRestored = %d, want the patients row only", res.RowsRestored)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "patient_vitals not present") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestRestore_UnknownColumnIsWarnedOnce(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	doc := NewDocument(Metadata{})
	doc.Tables["patients"] = []Row{
		{"id": StringValue("old-p1"), "first_name": StringValue("Ana"), "wing": StringValue("East")},
		{"id": StringValue("old-p2"), "first_name": StringValue("Ben"), "wing": StringValue("West")},
	}

	res, err := r.Restore(context.Background(), "sim_dst", doc, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsRestored != 2 {
		t.Errorf("RowsRestored = %d, want 2", res.RowsRestored)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "column wing") {
		t.Errorf("warnings = %v, want one warning about the dropped column", res.Warnings)
	}
}

func TestRestore_UnmappedReferencePassesThrough(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	doc := NewDocument(Metadata{})
	doc.Tables["patient_vitals"] = []Row{
		{"id": StringValue("old-v1"), "patient_id": StringValue("ghost-id"), "heart_rate": NumberValue("60")},
	}

	res, err := r.Restore(context.Background(), "sim_dst", doc, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsRestored != 1 {
		t.Fatalf("RowsRestored = %d, warnings %v", res.RowsRestored, res.Warnings)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "not remapped") {
		t.Errorf("warnings = %v", res.Warnings)
	}
	if got := exec.callsFor("patient_vitals")[0].arg(t, "patient_id"); got != "ghost-id" {
		t.Errorf("patient_id = %v, want the original value passed through", got)
	}
}

func TestRestore_RowInsertFailureIsWarning(t *testing.T) {
	exec := &fakeExecer{
		failOn: func(sql string) error {
			if strings.Contains(sql, ".patients ") {
				return errors.New("duplicate key")
			}
			return nil
		},
	}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	res, err := r.Restore(context.Background(), "sim_dst", twoTableDoc(), nil, Options{})
	if err != nil {
		t.Fatalf("a failing row must not fail the restore: %v", err)
	}
	if res.RowsRestored != 1 {
		t.Errorf("RowsRestored = %d, want the vitals row only", res.RowsRestored)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "duplicate key") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want the insert failure surfaced", res.Warnings)
	}
	// The failed root row still registered its mapping, so the child kept a
	// consistent reference instead of the template id.
	if got := exec.callsFor("patient_vitals")[0].arg(t, "patient_id"); got == "old-p1" {
		t.Error("child reference fell back to the template id")
	}
}

func TestRestore_RowWithoutIDSkipped(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	doc := NewDocument(Metadata{})
	doc.Tables["patients"] = []Row{{"first_name": StringValue("Ana")}}

	res, err := r.Restore(context.Background(), "sim_dst", doc, nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsRestored != 0 {
		t.Errorf("RowsRestored = %d, want 0", res.RowsRestored)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "no id") {
		t.Errorf("warnings = %v", res.Warnings)
	}
}

func TestRestore_EmptyTimestampBecomesNull(t *testing.T) {
	exec := &fakeExecer{}
	r := NewRestorer(exec, testDescriptor(), zerolog.Nop())

	doc := twoTableDoc()
	doc.Tables["patient_vitals"][0]["recorded_at"] = StringValue("")

	if _, err := r.Restore(context.Background(), "sim_dst", doc, nil, Options{}); err != nil {
		t.Fatal(err)
	}
	if got := exec.callsFor("patient_vitals")[0].arg(t, "recorded_at"); got != nil {
		t.Errorf("recorded_at = %v, want NULL", got)
	}
}

func TestCoerceValue(t *testing.T) {
	cases := []struct {
		name    string
		v       Value
		ci      schema.ColumnInfo
		wantArg interface{}
		wantErr bool
	}{
		{"null into numeric", Null, schema.ColumnInfo{UDTName: "int4"}, nil, false},
		{"string digits into numeric", StringValue("72"), schema.ColumnInfo{UDTName: "int4"}, "72", false},
		{"bool into numeric", BoolValue(true), schema.ColumnInfo{UDTName: "int4"}, nil, true},
		{"scalar into array", StringValue("latex"), schema.ColumnInfo{UDTName: "text", IsArray: true}, nil, true},
		{"empty enum", StringValue(""), schema.ColumnInfo{UDTName: "device_status", IsEnum: true}, nil, false},
		{"enum label", StringValue("active"), schema.ColumnInfo{UDTName: "device_status", IsEnum: true}, "active", false},
		{"object into jsonb", ObjectValue(map[string]Value{"rate": NumberValue("40")}), schema.ColumnInfo{UDTName: "jsonb"}, `{"rate":40}`, false},
		{"bool string into bool", StringValue("true"), schema.ColumnInfo{UDTName: "bool"}, "true", false},
		{"list into bool", ListValue([]string{"x"}), schema.ColumnInfo{UDTName: "bool"}, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			arg, _, err := coerceValue(c.v, c.ci)
			if c.wantErr {
				if err == nil {
					t.Fatalf("coerceValue(%+v) succeeded, want error", c.v)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceValue: %v", err)
			}
			if arg != c.wantArg {
				t.Errorf("arg = %v, want %v", arg, c.wantArg)
			}
		})
	}
}
