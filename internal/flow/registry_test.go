package flow

import (
	"context"
	"strings"
	"testing"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&Tool{
		Name: "get_bootcamp_info",
		Descriptions: map[string]string{
			LangEnglish: "Returns bootcamp information.",
		},
		Handler: func(ctx context.Context, waID string, args []string) (string, error) {
			return "info", nil
		},
	})

	tool, ok := registry.Get("get_bootcamp_info")
	if !ok {
		t.Fatal("expected tool to be registered")
	}
	out, err := tool.Handler(context.Background(), "user1", nil)
	if err != nil || out != "info" {
		t.Errorf("unexpected handler result: %q, %v", out, err)
	}

	if _, ok := registry.Get("missing_tool"); ok {
		t.Error("expected lookup of unregistered tool to fail")
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	registry := NewToolRegistry()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		registry.Register(&Tool{Name: name})
	}
	// Re-registering does not duplicate or reorder
	registry.Register(&Tool{Name: "beta"})

	names := registry.Names()
	if len(names) != 3 {
		t.Fatalf("expected 3 names, got %v", names)
	}
	if names[0] != "alpha" || names[1] != "beta" || names[2] != "gamma" {
		t.Errorf("unexpected order: %v", names)
	}
}

func TestRegistryManual(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&Tool{
		Name: "search_programs",
		Descriptions: map[string]string{
			LangEnglish: "Searches the catalog.",
			LangFrench:  "Recherche dans le catalogue.",
		},
	})

	manual := registry.Manual(LangEnglish)
	if !strings.Contains(manual, "- {search_programs}: Searches the catalog.") {
		t.Errorf("unexpected manual: %q", manual)
	}

	manualFr := registry.Manual(LangFrench)
	if !strings.Contains(manualFr, "Recherche dans le catalogue.") {
		t.Errorf("expected French manual, got %q", manualFr)
	}

	// Missing language falls back to English
	manualAr := registry.Manual(LangArabic)
	if !strings.Contains(manualAr, "Searches the catalog.") {
		t.Errorf("expected English fallback, got %q", manualAr)
	}
}
