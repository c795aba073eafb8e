package federation

import "testing"

func TestDeserializeOneOrManyAcceptsBareAndArray(t *testing.T) {
	bare, err := DeserializeOneOrMany[string]([]byte(`"https://www.w3.org/ns/activitystreams"`))
	if err != nil || len(bare) != 1 || bare[0] != "https://www.w3.org/ns/activitystreams" {
		t.Fatalf("bare form: got %v, %v", bare, err)
	}

	many, err := DeserializeOneOrMany[string]([]byte(`["a","b","c"]`))
	if err != nil || len(many) != 3 {
		t.Fatalf("array form: got %v, %v", many, err)
	}
}

type attachment struct {
	URL string `json:"url"`
}

func TestDeserializeSkipErrorDropsMalformedElements(t *testing.T) {
	raw := `[{"url":"https://a.example/1"}, "not-an-object", {"url":"https://a.example/2"}]`
	out, err := DeserializeSkipError[attachment]([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (malformed middle element dropped)", len(out))
	}
	if out[0].URL != "https://a.example/1" || out[1].URL != "https://a.example/2" {
		t.Errorf("unexpected elements: %+v", out)
	}
}

func TestDeserializeLastHandlesBareArrayAndAbsent(t *testing.T) {
	one, err := DeserializeLast[string]([]byte(`"solo"`))
	if err != nil || one == nil || *one != "solo" {
		t.Fatalf("bare form: got %v, %v", one, err)
	}

	last, err := DeserializeLast[string]([]byte(`["first","second","last"]`))
	if err != nil || last == nil || *last != "last" {
		t.Fatalf("array form: got %v, %v", last, err)
	}

	absent, err := DeserializeLast[string](nil)
	if err != nil || absent != nil {
		t.Fatalf("absent form: got %v, %v", absent, err)
	}

	null, err := DeserializeLast[string]([]byte(`null`))
	if err != nil || null != nil {
		t.Fatalf("null form: got %v, %v", null, err)
	}
}

func TestEitherPrefersLeftThenFallsBackToRight(t *testing.T) {
	var e Either[string, attachment]
	if err := e.UnmarshalJSON([]byte(`"a plain string"`)); err != nil {
		t.Fatalf("unmarshal left: %v", err)
	}
	if e.Left == nil || *e.Left != "a plain string" || e.Right != nil {
		t.Fatalf("expected Left populated, got Left=%v Right=%v", e.Left, e.Right)
	}

	var e2 Either[int, attachment]
	if err := e2.UnmarshalJSON([]byte(`{"url":"https://a.example/note"}`)); err != nil {
		t.Fatalf("unmarshal right: %v", err)
	}
	if e2.Right == nil || e2.Right.URL != "https://a.example/note" || e2.Left != nil {
		t.Fatalf("expected Right populated, got Left=%v Right=%v", e2.Left, e2.Right)
	}

	out, err := e2.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"url":"https://a.example/note"}` {
		t.Errorf("MarshalJSON = %s", out)
	}
}
