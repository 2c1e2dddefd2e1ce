package prompt

import "testing"

func TestSuffix(t *testing.T) {
	p := Suffix("jump$ ")
	if idx := p.MatchTail("user@jump$ "); idx != 5 {
		t.Errorf("MatchTail = %d, want 5", idx)
	}
	if idx := p.MatchTail("jump$ ls"); idx != -1 {
		t.Errorf("MatchTail on non-tail = %d, want -1", idx)
	}
	if idx := Suffix("").MatchTail("anything"); idx != -1 {
		t.Errorf("empty suffix matched at %d", idx)
	}
}

func TestRegexpAnchoredAtEnd(t *testing.T) {
	p, err := Regexp(`[$#]\s*`)
	if err != nil {
		t.Fatalf("Regexp: %v", err)
	}
	tests := []struct {
		line string
		want int
	}{
		{"root@app:~# ", 10},
		{"user@jump:~$", 11},
		{"price is $5 today", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := p.MatchTail(tt.line); got != tt.want {
			t.Errorf("MatchTail(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}

func TestRegexpRejectsBadExpression(t *testing.T) {
	if _, err := Regexp("("); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := Regexp(""); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestMustRegexpPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustRegexp("[")
}

func TestDefaultPatterns(t *testing.T) {
	m := NewMatcher(DefaultPatterns()...)
	for _, line := range []string{"user@jump:~$ ", "root@app:~# ", "[svc@app ~]$ ", "> "} {
		if res := m.Consume([]byte(line)); !res.Found {
			t.Errorf("default patterns did not match %q", line)
		}
	}
	if res := m.Consume([]byte("Running 3/3")); res.Found {
		t.Error("default patterns matched ordinary output")
	}
}
