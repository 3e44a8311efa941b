package kernel

import "testing"

func TestParamsColonAndEquals(t *testing.T) {
	p := ParseParams("order: 2, alpha=0.5\nname: \"car filter\"")
	if got := p.Int("order", -1); got != 2 {
		t.Fatalf("order = %d, want 2", got)
	}
	if got := p.Float("alpha", -1); got != 0.5 {
		t.Fatalf("alpha = %v, want 0.5", got)
	}
	if got := p.String("name", ""); got != "car filter" {
		t.Fatalf("name = %q, want %q", got, "car filter")
	}
}

func TestParamsAmpersandRecords(t *testing.T) {
	p := ParseParams("order=3&window=hann&strict=true")
	if got := p.Int("order", 0); got != 3 {
		t.Fatalf("order = %d, want 3", got)
	}
	if got := p.String("window", ""); got != "hann" {
		t.Fatalf("window = %q, want hann", got)
	}
	if !p.Bool("strict", false) {
		t.Fatalf("strict should be true")
	}
}

func TestParamsMissingKeyFallsBackToDefault(t *testing.T) {
	p := ParseParams("order=2")
	if got := p.Float("alpha", 0.25); got != 0.25 {
		t.Fatalf("alpha = %v, want default 0.25", got)
	}
	if got := p.String("name", "fallback"); got != "fallback" {
		t.Fatalf("name = %q, want fallback", got)
	}
}

func TestParamsNaNAndInfFallBackToDefault(t *testing.T) {
	p := ParseParams("a=NaN,b=Inf,c=-Inf")
	if got := p.Float("a", 1); got != 1 {
		t.Fatalf("NaN did not fall back: got %v", got)
	}
	if got := p.Float("b", 2); got != 2 {
		t.Fatalf("Inf did not fall back: got %v", got)
	}
	if got := p.Float("c", 3); got != 3 {
		t.Fatalf("-Inf did not fall back: got %v", got)
	}
}

func TestParamsBoolTrueFalseSetsCaseInsensitive(t *testing.T) {
	cases := map[string]bool{
		"TRUE": true, "Yes": true, "1": true, "ON": true,
		"False": false, "NO": false, "0": false, "Off": false,
	}
	for raw, want := range cases {
		p := ParseParams("flag=" + raw)
		if got := p.Bool("flag", !want); got != want {
			t.Fatalf("Bool(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestParamsBoolMalformedFallsBackToDefault(t *testing.T) {
	p := ParseParams("flag=maybe")
	if got := p.Bool("flag", true); !got {
		t.Fatalf("malformed bool should fall back to default true")
	}
}

func TestParamsIntMalformedFallsBackToDefault(t *testing.T) {
	p := ParseParams("order=notanumber")
	if got := p.Int("order", 7); got != 7 {
		t.Fatalf("malformed int should fall back, got %d", got)
	}
}

func TestParamsQuotedStringsUnquoted(t *testing.T) {
	p := ParseParams(`a="double",b='single'`)
	if got := p.String("a", ""); got != "double" {
		t.Fatalf("a = %q, want double", got)
	}
	if got := p.String("b", ""); got != "single" {
		t.Fatalf("b = %q, want single", got)
	}
}

func TestParamsEmptyStringYieldsNoKeys(t *testing.T) {
	p := ParseParams("")
	if got := p.Int("anything", 9); got != 9 {
		t.Fatalf("empty params should yield defaults, got %d", got)
	}
}
