package promptmatch

import "testing"

func TestMatchBilingual(t *testing.T) {
	m, err := New([]Template{
		{Key: "weather", Variants: map[Language]string{
			LangEnglish: "what is the weather in {city}",
			LangChinese: "{city}的天气怎么样",
		}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res := m.Match("please tell me what is the weather in Beijing today")
	if !res.Matched {
		t.Fatalf("expected match")
	}
	if res.Key != "weather" {
		t.Errorf("expected key weather, got %s", res.Key)
	}
	if res.Language != LangEnglish {
		t.Errorf("expected english variant, got %s", res.Language)
	}
	if got := res.Placeholders["city"]; got != "Beijing" {
		t.Errorf("expected city=Beijing, got %q", got)
	}
	if v, ok := res.FirstPlaceholder(); !ok || v != "Beijing" {
		t.Errorf("expected first placeholder Beijing, got %q (%v)", v, ok)
	}
}

func TestMatchVariantOrderIsDeterministic(t *testing.T) {
	// Both variants match any non-empty text, so without VariantOrder driving
	// construction this would non-deterministically pick chinese or english
	// across runs. VariantOrder pins it to english first.
	templates := []Template{
		{
			Key: "greeting",
			Variants: map[Language]string{
				LangChinese: "{body}",
				LangEnglish: "{body}",
			},
			VariantOrder: []Language{LangEnglish, LangChinese},
		},
	}
	for i := 0; i < 20; i++ {
		m, err := New(templates)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res := m.Match("hello there")
		if !res.Matched || res.Language != LangEnglish {
			t.Fatalf("run %d: expected deterministic english match, got %+v", i, res)
		}
	}
}

func TestMatchVariantOrderFallsBackToSortedOrder(t *testing.T) {
	// A Template built without VariantOrder (e.g. constructed directly
	// rather than loaded from YAML) still matches deterministically, via
	// the sorted fallback over Variants' keys.
	templates := []Template{
		{Key: "greeting", Variants: map[Language]string{
			LangChinese: "{body}",
			LangEnglish: "{body}",
		}},
	}
	for i := 0; i < 20; i++ {
		m, err := New(templates)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res := m.Match("hello there")
		if !res.Matched || res.Language != LangChinese {
			t.Fatalf("run %d: expected deterministic sorted-fallback match (chinese < english), got %+v", i, res)
		}
	}
}

func TestMatchLegacySingleTemplate(t *testing.T) {
	m, err := New([]Template{
		{Key: "greeting", Variants: map[Language]string{LangDefault: "hello {name}"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := m.Match("hello Alice")
	if !res.Matched || res.Placeholders["name"] != "Alice" {
		t.Fatalf("expected match with name=Alice, got %+v", res)
	}
}

func TestMatchNoPlaceholders(t *testing.T) {
	m, err := New([]Template{{Key: "ping", Variants: map[Language]string{LangDefault: "ping"}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := m.Match("  ping  ")
	if !res.Matched || res.Key != "ping" {
		t.Fatalf("expected match on trimmed text, got %+v", res)
	}
	if _, ok := res.FirstPlaceholder(); ok {
		t.Errorf("expected no placeholders")
	}
}

func TestMatchNoMatchReturnsFalse(t *testing.T) {
	m, err := New([]Template{{Key: "weather", Variants: map[Language]string{LangDefault: "weather in {city}"}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := m.Match("what time is it")
	if res.Matched {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestMatchInsertionOrderPriority(t *testing.T) {
	// Both templates could match "weather today"; the first declared wins.
	m, err := New([]Template{
		{Key: "first", Variants: map[Language]string{LangDefault: "{anything}"}},
		{Key: "second", Variants: map[Language]string{LangDefault: "weather"}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := m.Match("weather today")
	if res.Key != "first" {
		t.Errorf("expected first-declared template to win, got %s", res.Key)
	}
}

func TestMatchNonAnchoredSearch(t *testing.T) {
	m, err := New([]Template{{Key: "k", Variants: map[Language]string{LangDefault: "{a}middle{b}"}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := m.Match("prefix xx middle yy suffix")
	if !res.Matched {
		t.Fatalf("expected non-anchored match")
	}
}
