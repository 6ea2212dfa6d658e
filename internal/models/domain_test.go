package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMaybe_Kinds(t *testing.T) {
	tests := []struct {
		name      string
		field     Maybe[string]
		wantKind  Kind
		wantFirst string
		wantOK    bool
	}{
		{"absent", Absent[string](), KindAbsent, "", false},
		{"scalar", Scalar("a"), KindScalar, "a", true},
		{"list", List("x", "y"), KindList, "x", true},
		{"empty list", List[string](), KindAbsent, "", false},
		{"single element list", List("only"), KindList, "only", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.field.Kind(); got != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", got, tt.wantKind)
			}
			got, ok := tt.field.First()
			if got != tt.wantFirst || ok != tt.wantOK {
				t.Errorf("First() = (%q, %v), want (%q, %v)", got, ok, tt.wantFirst, tt.wantOK)
			}
		})
	}
}

func TestMaybe_ListCopiesInput(t *testing.T) {
	in := []string{"a", "b"}
	m := List(in...)
	in[0] = "changed"

	if first, _ := m.First(); first != "a" {
		t.Errorf("First() = %q, want a", first)
	}

	vals := m.Values()
	vals[1] = "changed"
	if m.Values()[1] != "b" {
		t.Error("Values() should return a copy")
	}
}

func TestMaybe_MarshalJSON(t *testing.T) {
	reg := struct {
		A Maybe[string] `json:"a"`
		B Maybe[string] `json:"b"`
		C Maybe[string] `json:"c"`
	}{Absent[string](), Scalar("one"), List("x", "y")}

	data, err := json.Marshal(reg)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":null,"b":"one","c":["x","y"]}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}

func TestOutcome(t *testing.T) {
	ok := Succeeded(Registration{Registrar: "Example", CreatedAt: Scalar(time.Now())})
	if !ok.OK() || ok.Reason() != "" {
		t.Errorf("Succeeded outcome: OK=%v Reason=%q", ok.OK(), ok.Reason())
	}

	failed := Failed("timeout")
	if failed.OK() {
		t.Error("Failed outcome should not be OK")
	}
	if failed.Reason() != "timeout" {
		t.Errorf("Reason() = %q, want timeout", failed.Reason())
	}

	if (Outcome{}).OK() {
		t.Error("zero outcome should not be OK")
	}
}

func TestOutputRecord_Row(t *testing.T) {
	rec := OutputRecord{
		Count:       7,
		DomainName:  "a.com",
		Registrar:   "R",
		CreatedDate: "2020-01-01",
		UpdatedDate: "2021-01-01",
		ExpiryDate:  "2030-01-01",
		NameServers: "ns1.a.com, ns2.a.com",
	}

	row := rec.Row(false)
	if len(row) != len(Header(false)) {
		t.Fatalf("row has %d columns, header %d", len(row), len(Header(false)))
	}
	if row[0] != "7" || row[4] != "2030-01-01" || row[5] != "ns1.a.com, ns2.a.com" || row[6] != "" {
		t.Errorf("Row(false) = %v", row)
	}

	row = rec.Row(true)
	if len(row) != len(Header(true)) {
		t.Fatalf("row has %d columns, header %d", len(row), len(Header(true)))
	}
	if row[5] != "2021-01-01" {
		t.Errorf("Updated Date column = %q, want 2021-01-01", row[5])
	}
}

func TestBatch_Bounds(t *testing.T) {
	b := Batch{ID: 2, Queries: []DomainQuery{{Domain: "a.com", Index: 3}, {Domain: "b.com", Index: 4}}}
	if b.First() != 3 || b.Last() != 4 {
		t.Errorf("First/Last = %d/%d, want 3/4", b.First(), b.Last())
	}
	if (Batch{}).First() != 0 || (Batch{}).Last() != 0 {
		t.Error("empty batch bounds should be 0")
	}
}
