package toolcall

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeArgs_PreservesOrder(t *testing.T) {
	args, err := DecodeArgs([]byte(`{"zeta": 1, "alpha": {"b": 2, "a": 1}, "mid": "x"}`))
	if err != nil {
		t.Fatalf("DecodeArgs: %v", err)
	}
	keys := []string{}
	for _, a := range args {
		keys = append(keys, a.Key)
	}
	if strings.Join(keys, ",") != "zeta,alpha,mid" {
		t.Errorf("key order = %v", keys)
	}
	if got := string(args.JSON()); got != `{"zeta":1,"alpha":{"b": 2, "a": 1},"mid":"x"}` {
		t.Errorf("JSON = %s", got)
	}
}

func TestDecodeArgs_Edges(t *testing.T) {
	for _, raw := range []string{"", "  ", "null"} {
		args, err := DecodeArgs([]byte(raw))
		if err != nil || len(args) != 0 {
			t.Errorf("DecodeArgs(%q) = %v, %v", raw, args, err)
		}
		if string(args.JSON()) != "{}" {
			t.Errorf("empty args JSON = %s", args.JSON())
		}
	}
	for _, raw := range []string{"[1]", `"s"`, "{bad"} {
		if _, err := DecodeArgs([]byte(raw)); err == nil {
			t.Errorf("DecodeArgs(%q) should fail", raw)
		}
	}
}

func TestSignature_IgnoresKeyOrderAndID(t *testing.T) {
	a1, _ := DecodeArgs([]byte(`{"a":1,"b":2}`))
	a2, _ := DecodeArgs([]byte(`{"b":2,"a":1}`))
	c1 := Call{ID: "1", Name: "grep", Args: a1}
	c2 := Call{ID: "2", Name: "grep", Args: a2}
	if c1.Signature() != c2.Signature() {
		t.Errorf("signatures differ: %q vs %q", c1.Signature(), c2.Signature())
	}
	c2.Name = "glob"
	if c1.Signature() == c2.Signature() {
		t.Errorf("different tools share a signature")
	}
}

func TestErrors(t *testing.T) {
	pe := &ParseError{Reason: "missing name", Snippet: "{}"}
	ie := &InvocationError{Tool: "x", Reason: "could not parse tool call", Err: pe}
	var got *ParseError
	if !errors.As(ie, &got) {
		t.Fatal("InvocationError should unwrap to ParseError")
	}
	if kindOf(ie) != KindParse {
		t.Errorf("kindOf = %q", kindOf(ie))
	}
	if kindOf(&InvocationError{Tool: "x", Reason: "unknown tool"}) != KindInvocation {
		t.Errorf("plain invocation error kind wrong")
	}
	if !strings.Contains(ie.Error(), "invalid call to x") {
		t.Errorf("Error() = %q", ie.Error())
	}
}

func TestCatalog(t *testing.T) {
	cat := NewCatalog(
		Descriptor{Name: "a", Target: BuiltIn},
		Descriptor{Name: "a", Target: ToolServer("s")},
		Descriptor{Name: "b", Remote: "real_b", Target: ToolServer("s")},
	)
	if cat.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cat.Len())
	}
	d, ok := cat.Lookup("a")
	if !ok || d.Target != BuiltIn {
		t.Errorf("first descriptor should win, got %+v", d)
	}
	d, _ = cat.Lookup("b")
	if d.RemoteName() != "real_b" {
		t.Errorf("RemoteName = %q", d.RemoteName())
	}
	var nilCat *Catalog
	if _, ok := nilCat.Lookup("a"); ok || nilCat.Len() != 0 {
		t.Errorf("nil catalog should be empty")
	}
	if err := cat.Validate(d, map[string]any{"anything": true}); err != nil {
		t.Errorf("schemaless tool should accept any object: %v", err)
	}
}
