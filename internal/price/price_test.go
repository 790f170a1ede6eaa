package price

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"  ", "0"},
		{"Free", "0"},
		{"FREE", "0"},
		{"0", "0"},
		{"-", "0"},
		{"25.00", "25"},
		{"$25.00", "25"},
		{"€1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1,500", "1500"},
		{"25,00", "25"},
		{"USD 99", "99"},
		{"£ 10.50", "10.5"},
		{"1.234.567,89", "1234567.89"},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got.String() != c.want {
			t.Errorf("Parse(%q) = %s, want %s", c.in, got.String(), c.want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"abc", "???", "-5", "$-10"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) expected error", in)
		}
	}
}

func TestParseFreeMeansZero(t *testing.T) {
	d, err := Parse("free")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsZero() {
		t.Fatalf("expected zero, got %s", d)
	}
}
