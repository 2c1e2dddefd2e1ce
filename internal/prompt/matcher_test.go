package prompt

import "testing"

func TestConsumeSplitsPrefixAndPrompt(t *testing.T) {
	m := NewMatcher(Suffix("jump$ "))
	res := m.Consume([]byte("Last login: today\r\nuser@jump$ "))
	if !res.Found {
		t.Fatal("expected match")
	}
	if res.Prefix != "Last login: today\nuser@" {
		t.Errorf("Prefix = %q", res.Prefix)
	}
	if res.Head != "Last login: today\n" {
		t.Errorf("Head = %q", res.Head)
	}
	if res.Prompt != "jump$ " {
		t.Errorf("Prompt = %q", res.Prompt)
	}
	if res.Index != 0 {
		t.Errorf("Index = %d, want 0", res.Index)
	}
}

func TestConsumeOnlyMatchesLastLine(t *testing.T) {
	m := NewMatcher(Suffix("app# "))
	res := m.Consume([]byte("echo app# \r\nstill running"))
	if res.Found {
		t.Fatal("prompt-like text in an earlier line must not match")
	}
	if res.Index != -1 {
		t.Errorf("Index = %d, want -1", res.Index)
	}
}

func TestConsumeTrailingNewlineIsNotAPrompt(t *testing.T) {
	m := NewMatcher(DefaultPatterns()...)
	if res := m.Consume([]byte("user@jump:~$ \r\n")); res.Found {
		t.Fatal("a completed line must not be treated as an idle prompt")
	}
}

func TestConsumePatternOrder(t *testing.T) {
	m := NewMatcher(Suffix("app# "), MustRegexp(`[$#]\s*`))
	res := m.Consume([]byte("root@app# "))
	if res.Index != 0 {
		t.Errorf("Index = %d, want first pattern", res.Index)
	}
	res = m.Consume([]byte("root@other# "))
	if res.Index != 1 {
		t.Errorf("Index = %d, want fallback pattern", res.Index)
	}
}

func TestConsumeAfterRedraw(t *testing.T) {
	m := NewMatcher(Suffix("app# "))
	res := m.Consume([]byte("pulling 40%\r\x1b[K\x1b[32mroot@app# \x1b[0m"))
	if !res.Found {
		t.Fatal("expected match after redraw")
	}
	if res.Prefix != "root@" {
		t.Errorf("Prefix = %q", res.Prefix)
	}
}

func TestConsumeEmpty(t *testing.T) {
	if res := NewMatcher().Consume([]byte("x$ ")); res.Found {
		t.Error("matcher without patterns matched")
	}
	if res := NewMatcher(Suffix("$ ")).Consume(nil); res.Found {
		t.Error("empty buffer matched")
	}
}
