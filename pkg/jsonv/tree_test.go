package jsonv

import "testing"

func TestTreeFindValAndGetters(t *testing.T) {
	doc := `{"jsonrpc":"2.0","id":7,"result":{"context":{"slot":1234},"value":{"lamports":42,"executable":false,"owner":"11111111111111111111111111111111"}}}`
	tree, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	id, ok := tree.Root().FindVal("id")
	if !ok {
		t.Fatal("expected id field")
	}
	n, err := id.GetInt()
	if err != nil || n != 7 {
		t.Fatalf("id = %d, %v, want 7", n, err)
	}

	result, ok := tree.Root().FindVal("result")
	if !ok {
		t.Fatal("expected result field")
	}
	value, ok := result.FindVal("value")
	if !ok {
		t.Fatal("expected value field")
	}
	lamports, ok := value.FindVal("lamports")
	if !ok {
		t.Fatal("expected lamports field")
	}
	lv, err := lamports.GetUint()
	if err != nil || lv != 42 {
		t.Fatalf("lamports = %d, %v, want 42", lv, err)
	}

	owner, ok := value.FindVal("owner")
	if !ok {
		t.Fatal("expected owner field")
	}
	ownerStr, err := owner.GetText()
	if err != nil || ownerStr != "11111111111111111111111111111111" {
		t.Fatalf("owner = %q, %v", ownerStr, err)
	}
}

func TestTreeMissingKeyIsInvalid(t *testing.T) {
	tree, err := Parse([]byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, ok := tree.Root().FindVal("missing")
	if ok || n.Valid() {
		t.Fatal("expected missing key to be invalid")
	}
}

func TestTreeArrayIndexing(t *testing.T) {
	tree, err := Parse([]byte(`{"params":[1,2,3]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	params, ok := tree.Root().FindVal("params")
	if !ok {
		t.Fatal("expected params field")
	}
	if params.Len() != 3 {
		t.Fatalf("len = %d, want 3", params.Len())
	}
	second, ok := params.Index(1)
	if !ok {
		t.Fatal("expected index 1")
	}
	v, err := second.GetInt()
	if err != nil || v != 2 {
		t.Fatalf("params[1] = %d, %v, want 2", v, err)
	}
	if _, ok := params.Index(10); ok {
		t.Fatal("expected out-of-range index to miss")
	}
}

func TestParseMalformedReturnsError(t *testing.T) {
	if _, err := Parse([]byte(`{"a":`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
