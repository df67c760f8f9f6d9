package collector

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestParsePriceText(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"1.250 €", "1250"},
		{"€ 49,90", "49.90"},
		{"450", "450"},
		{"VB 1.200,50 €", "1200.50"},
		{"Zu verschenken", "0"},
		{"Free", "0"},
	}

	for _, tc := range cases {
		got, err := ParsePriceText(tc.text)
		if err != nil {
			t.Errorf("ParsePriceText(%q) errored: %v", tc.text, err)
			continue
		}
		if !got.Equal(dec(t, tc.want)) {
			t.Errorf("ParsePriceText(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestParsePriceTextRejectsGarbage(t *testing.T) {
	for _, text := range []string{"", "   ", "auf Anfrage"} {
		if _, err := ParsePriceText(text); err == nil {
			t.Errorf("ParsePriceText(%q) should error", text)
		}
	}
}

func TestCookieParams(t *testing.T) {
	params := cookieParams("session=abc; theme=dark", "https://market.example")
	if len(params) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(params))
	}
	if params[0].Name != "session" || params[0].Value != "abc" {
		t.Fatalf("unexpected first cookie: %+v", params[0])
	}
	if params[1].URL != "https://market.example" {
		t.Fatalf("cookie URL not set: %+v", params[1])
	}
}

func TestResolveURL(t *testing.T) {
	if got := resolveURL("https://m.example/", "/l/123"); got != "https://m.example/l/123" {
		t.Fatalf("relative href not resolved: %s", got)
	}
	if got := resolveURL("https://m.example", "https://other/l/1"); got != "https://other/l/1" {
		t.Fatalf("absolute href must pass through: %s", got)
	}
}
