package tools

import "testing"

func TestRegistryListsInStableNameOrder(t *testing.T) {
	registry := NewRegistry(
		&namedTool{name: "zulu"},
		&namedTool{name: "alpha"},
		&namedTool{name: "mike"},
	)

	names := func() []string {
		listed := registry.List()
		out := make([]string, len(listed))
		for i, tool := range listed {
			out[i] = tool.Name()
		}
		return out
	}

	first := names()
	want := []string{"alpha", "mike", "zulu"}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, first)
		}
	}
	second := names()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("listing order is not stable: %v vs %v", first, second)
		}
	}
}

func TestRegistrySkipsNilAndDuplicates(t *testing.T) {
	original := &namedTool{name: "echo"}
	registry := NewRegistry(original, nil, &namedTool{name: "echo"})

	if got := len(registry.List()); got != 1 {
		t.Fatalf("expected one tool, got %d", got)
	}
	tool, ok := registry.Get("echo")
	if !ok {
		t.Fatal("registered tool not found")
	}
	if tool != original {
		t.Fatal("duplicate registration replaced the original")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatal("lookup of an unknown tool succeeded")
	}
}
