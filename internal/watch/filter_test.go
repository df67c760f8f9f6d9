package watch

import "testing"

func TestMatchesFiltersKeywords(t *testing.T) {
	w := Watcher{
		IncludeKeywords: []string{"thinkpad", "x1"},
		ExcludeKeywords: []string{"defekt", "bastler"},
	}

	cases := []struct {
		title string
		want  bool
	}{
		{"ThinkPad X1 Carbon Gen 9", true},
		{"Thinkpad T480", false},                // missing include keyword
		{"ThinkPad X1 Yoga - Defekt", false},    // excluded
		{"THINKPAD x1 nano, Bastlergerät", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := w.MatchesFilters(tc.title, dec("500")); got != tc.want {
			t.Errorf("MatchesFilters(%q) = %v, want %v", tc.title, got, tc.want)
		}
	}
}

func TestMatchesFiltersPriceBounds(t *testing.T) {
	w := Watcher{MinPrice: dec("100"), MaxPrice: dec("800")}

	if w.MatchesFilters("anything", dec("99")) {
		t.Fatal("below min price should not match")
	}
	if w.MatchesFilters("anything", dec("801")) {
		t.Fatal("above max price should not match")
	}
	if !w.MatchesFilters("anything", dec("100")) || !w.MatchesFilters("anything", dec("800")) {
		t.Fatal("bounds are inclusive")
	}
}

func TestMatchesFiltersUnsetBounds(t *testing.T) {
	w := Watcher{}
	if !w.MatchesFilters("anything", dec("0")) {
		t.Fatal("no filters configured should match everything")
	}
}
