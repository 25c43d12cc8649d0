package query

import (
	"encoding/json"
	"testing"
)

func TestParamsKeepDecodedOrder(t *testing.T) {
	var params Params
	if err := json.Unmarshal([]byte(`{"zeta": "a", "alpha": 5, "mid": 1.5, "none": null}`), &params); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	names := params.Names()
	if len(names) != 4 || names[0] != "zeta" || names[1] != "alpha" || names[2] != "mid" || names[3] != "none" {
		t.Fatalf("Names() = %#v", names)
	}
	if params[1].Value != int64(5) {
		t.Fatalf("alpha = %#v, want int64(5)", params[1].Value)
	}
	if params[2].Value != 1.5 {
		t.Fatalf("mid = %#v", params[2].Value)
	}

	encoded, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(encoded) != `{"zeta":"a","alpha":5,"mid":1.5,"none":null}` {
		t.Fatalf("Marshal() = %s", encoded)
	}
}

func TestParamsRejectsNonObject(t *testing.T) {
	var params Params
	if err := json.Unmarshal([]byte(`["a"]`), &params); err == nil {
		t.Fatal("expected error for array input")
	}
}

func TestParamsLookupFallsBackToCaseInsensitive(t *testing.T) {
	params := Params{{Name: "Category", Value: "Books"}}
	if i, ok := params.Lookup("category"); !ok || i != 0 {
		t.Fatalf("Lookup() = %d, %v", i, ok)
	}
	if _, ok := params.Lookup("missing"); ok {
		t.Fatal("did not expect missing parameter")
	}
}
