package version

import "testing"

func TestParse(t *testing.T) {
	p, ok := Parse("v1.2.3-beta")
	if !ok {
		t.Fatal("expected valid parse")
	}
	if p.Major != 1 || p.Minor != 2 || p.Patch != 3 {
		t.Fatalf("unexpected parse: %+v", p)
	}
	if _, ok := Parse("not-a-version"); ok {
		t.Fatal("expected invalid parse to fail")
	}
}

func TestCompareAndLessThan(t *testing.T) {
	if !LessThan("1.0.8", "1.1.0") {
		t.Fatal("expected 1.0.8 < 1.1.0")
	}
	if LessThan("1.2.0", "1.1.9") {
		t.Fatal("expected 1.2.0 >= 1.1.9")
	}
	if !AtLeast("2.0.0", "1.9.9") {
		t.Fatal("expected 2.0.0 >= 1.9.9")
	}
	if Compare("bogus", "1.0.0") != 0 {
		t.Fatal("expected invalid comparison to return 0")
	}
}
