package services

import (
	"testing"

	"athena-rag-backend/models"
)

func TestParsePageMarkers(t *testing.T) {
	text := "--- PAGE 1 ---\nFirst page text.\n--- PAGE 2 ---\nSecond page\ncontinues here.\n--- PAGE 3 ---\n"

	pages := parsePageMarkers(text)
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	if pages[0].Number != 1 || pages[0].Text != "First page text." {
		t.Errorf("page 1 = %+v", pages[0])
	}
	if pages[1].Number != 2 || pages[1].Text != "Second page\ncontinues here." {
		t.Errorf("page 2 = %+v", pages[1])
	}
	if pages[2].Number != 3 || pages[2].Text != "" {
		t.Errorf("page 3 = %+v", pages[2])
	}
}

func TestParsePageMarkersNoMarkers(t *testing.T) {
	if pages := parsePageMarkers("plain text without any markers"); pages != nil {
		t.Errorf("expected nil, got %v", pages)
	}
}

func TestLooksScanned(t *testing.T) {
	cases := []struct {
		name  string
		pages []models.Page
		want  bool
	}{
		{"no pages", nil, true},
		{"empty pages", []models.Page{{Number: 1}, {Number: 2}}, true},
		{"substantial text", []models.Page{{Number: 1, Text: "This page has a normal amount of readable text on it."}}, false},
		{"a few stray characters", []models.Page{{Number: 1, Text: "x"}, {Number: 2, Text: "7"}}, true},
	}
	for _, tc := range cases {
		if got := looksScanned(tc.pages); got != tc.want {
			t.Errorf("%s: looksScanned = %v, want %v", tc.name, got, tc.want)
		}
	}
}
