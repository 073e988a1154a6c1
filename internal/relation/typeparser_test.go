package relation

import "testing"

func TestParseType_Scalar(t *testing.T) {
	tests := []struct {
		in   string
		name string
	}{
		{"INTEGER", "INTEGER"},
		{"VARCHAR", "VARCHAR"},
		{"DOUBLE", "DOUBLE"},
		{"TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITH TIME ZONE"},
		{"VARCHAR(20)", "VARCHAR"},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if err != nil {
			t.Fatalf("ParseType(%q) failed: %v", tt.in, err)
		}
		if got.Kind != KindScalar {
			t.Errorf("ParseType(%q): kind = %v, want scalar", tt.in, got.Kind)
		}
		if got.Name != tt.name {
			t.Errorf("ParseType(%q): name = %q, want %q", tt.in, got.Name, tt.name)
		}
	}
}

func TestParseType_Decimal(t *testing.T) {
	got, err := ParseType("DECIMAL(18,2)")
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if got.Kind != KindDecimal || got.Precision != 18 || got.Scale != 2 {
		t.Errorf("got %+v, want DECIMAL(18,2)", got)
	}

	bare, err := ParseType("DECIMAL")
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if bare.Precision != 18 || bare.Scale != 3 {
		t.Errorf("bare DECIMAL: got (%d,%d), want defaults (18,3)", bare.Precision, bare.Scale)
	}
}

func TestParseType_Struct(t *testing.T) {
	got, err := ParseType("STRUCT(kind VARCHAR, score DOUBLE)")
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if !got.IsStruct() {
		t.Fatalf("kind = %v, want struct", got.Kind)
	}
	if len(got.Fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(got.Fields))
	}
	if got.Fields[0].Name != "kind" || got.Fields[0].Type.Name != "VARCHAR" {
		t.Errorf("field 0: got %+v", got.Fields[0])
	}
	if got.Fields[1].Name != "score" || got.Fields[1].Type.Name != "DOUBLE" {
		t.Errorf("field 1: got %+v", got.Fields[1])
	}
}

func TestParseType_ListOfStruct(t *testing.T) {
	got, err := ParseType("STRUCT(x INTEGER)[]")
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if !got.IsList() {
		t.Fatalf("kind = %v, want list", got.Kind)
	}
	if got.Elem == nil || !got.Elem.IsStruct() {
		t.Fatalf("element: got %+v, want struct", got.Elem)
	}
	if got.Elem.Raw != "STRUCT(x INTEGER)" {
		t.Errorf("element raw = %q, want STRUCT(x INTEGER)", got.Elem.Raw)
	}
	if got.Raw != "STRUCT(x INTEGER)[]" {
		t.Errorf("raw = %q", got.Raw)
	}
}

func TestParseType_NestedStructList(t *testing.T) {
	in := "STRUCT(id BIGINT, items STRUCT(x INTEGER, tags VARCHAR[])[])"
	got, err := ParseType(in)
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if len(got.Fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(got.Fields))
	}
	items := got.Fields[1]
	if items.Name != "items" || !items.Type.IsList() {
		t.Fatalf("items: got %+v", items)
	}
	elem := items.Type.Elem
	if !elem.IsStruct() || len(elem.Fields) != 2 {
		t.Fatalf("items element: got %+v", elem)
	}
	if !elem.Fields[1].Type.IsList() || elem.Fields[1].Type.Elem.Name != "VARCHAR" {
		t.Errorf("tags: got %+v", elem.Fields[1])
	}
}

func TestParseType_QuotedFieldName(t *testing.T) {
	got, err := ParseType(`STRUCT("a.b" INTEGER)`)
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if got.Fields[0].Name != "a.b" {
		t.Errorf("field name = %q, want a.b", got.Fields[0].Name)
	}
}

func TestParseType_Map(t *testing.T) {
	got, err := ParseType("MAP(VARCHAR, INTEGER)")
	if err != nil {
		t.Fatalf("ParseType failed: %v", err)
	}
	if got.Kind != KindMap {
		t.Fatalf("kind = %v, want map", got.Kind)
	}
	if got.Key.Name != "VARCHAR" || got.Value.Name != "INTEGER" {
		t.Errorf("got key=%q value=%q", got.Key.Name, got.Value.Name)
	}
}

func TestParseType_Malformed(t *testing.T) {
	for _, in := range []string{"", "STRUCT(", "STRUCT(x INTEGER", "INTEGER[", "STRUCT(x INTEGER) trailing("} {
		if _, err := ParseType(in); err == nil {
			t.Errorf("ParseType(%q): expected error", in)
		}
	}
}
