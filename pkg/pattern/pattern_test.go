package pattern

import "testing"

func TestMatchExact(t *testing.T) {
	if !Match("/api/users", "/api/users") {
		t.Fatal("expected exact match")
	}
	if Match("/api/users", "/api/posts") {
		t.Fatal("expected no match")
	}
}

func TestMatchWildcardAtEnd(t *testing.T) {
	if !Match("/api/users", "/api/*") {
		t.Fatal("expected match")
	}
	if !Match("/api/users/123", "/api/*") {
		t.Fatal("expected match")
	}
	if Match("/apiv2/users", "/api/*") {
		t.Fatal("expected no match")
	}
}

func TestMatchWildcardAtStart(t *testing.T) {
	if !Match("/api/users", "*/users") {
		t.Fatal("expected match")
	}
	if Match("/api/posts", "*/users") {
		t.Fatal("expected no match")
	}
}

func TestMatchWildcardInMiddle(t *testing.T) {
	if !Match("/api/v1/users", "/api/*/users") {
		t.Fatal("expected match")
	}
	if Match("/api/v1/posts", "/api/*/users") {
		t.Fatal("expected no match")
	}
}

func TestMatchMultipleWildcards(t *testing.T) {
	if !Match("/api/v1/users/123", "/api/*/users/*") {
		t.Fatal("expected match")
	}
	if Match("/api/v1/posts/123", "/api/*/users/*") {
		t.Fatal("expected no match")
	}
}

func TestMatchAllWildcard(t *testing.T) {
	if !Match("/anything", "*") {
		t.Fatal("expected match")
	}
	if !Match("", "*") {
		t.Fatal("expected match for empty input")
	}
}

func TestMatchEmptyPattern(t *testing.T) {
	if !Match("", "") {
		t.Fatal("expected empty pattern to match empty input")
	}
	if Match("x", "") {
		t.Fatal("expected empty pattern to reject non-empty input")
	}
}

func TestMatchWithMethodPrefix(t *testing.T) {
	if !MatchWithMethod("POST", "/api/users", "POST /api/users") {
		t.Fatal("expected exact method+path match")
	}
	if MatchWithMethod("GET", "/api/users", "POST /api/users") {
		t.Fatal("expected method mismatch to fail")
	}
	if !MatchWithMethod("POST", "/api/posts", "POST /api/*") {
		t.Fatal("expected wildcard method match")
	}
	if MatchWithMethod("GET", "/anything", "POST *") {
		t.Fatal("expected method-only pattern to reject other methods")
	}
	if !MatchWithMethod("GET", "/api/users", "/api/*") {
		t.Fatal("expected no-method pattern to match any method")
	}
}

func TestParseRejectsMethodWithoutSeparator(t *testing.T) {
	method, path := Parse("GETaway/nope")
	if method != "" || path != "GETaway/nope" {
		t.Fatalf("got method=%q path=%q, want no method prefix", method, path)
	}
}

func TestRoundTripAllWildcardMatchesAnything(t *testing.T) {
	inputs := []string{"", "/", "/x/y/z", "anything at all"}
	for _, in := range inputs {
		if !Match(in, "*") {
			t.Fatalf("match(%q, \"*\") should be true", in)
		}
	}
}

func TestRoundTripLiteralMatchesItself(t *testing.T) {
	literals := []string{"", "/a/b", "GET /x"}
	for _, lit := range literals {
		if !Match(lit, lit) {
			t.Fatalf("match(%q, %q) should be true", lit, lit)
		}
	}
}

func TestRoundTripWildcardInfix(t *testing.T) {
	cases := []struct{ a, s, b string }{
		{"/api/", "v1", "/users"},
		{"", "anything", ""},
		{"/x", "", "/y"},
		{"", "ab", "ab"},
	}
	for _, c := range cases {
		pattern := c.a + "*" + c.b
		input := c.a + c.s + c.b
		if !Match(input, pattern) {
			t.Fatalf("match(%q, %q) should be true", input, pattern)
		}
	}
}
