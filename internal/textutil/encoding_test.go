package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

func TestEnsureUTF8_ValidPassesThrough(t *testing.T) {
	for _, s := range []string{"", "Hello, World!", "你好世界", "Привет мир", "Hello 👋"} {
		if got := EnsureUTF8(s); got != s {
			t.Errorf("EnsureUTF8(%q) = %q, want unchanged", s, got)
		}
	}
}

func TestEnsureUTF8_Windows1252(t *testing.T) {
	raw, err := charmap.Windows1252.NewEncoder().String("Rand’s “Opponent”")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got := EnsureUTF8(raw)
	if !utf8.ValidString(got) {
		t.Fatalf("result is not valid UTF-8: %q", got)
	}
	if !strings.Contains(got, "Opponent") {
		t.Errorf("EnsureUTF8 lost content: %q", got)
	}
}

func TestEncodingByName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"windows-1252", true},
		{"ISO-8859-1", true},
		{" Shift_JIS ", true},
		{"GB18030", true},
		{"utf-16", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodingByName(tt.name) != nil; got != tt.want {
				t.Errorf("EncodingByName(%q) found = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("é", 250)
	if got := utf8.RuneCountInString(Snippet(long)); got != SnippetLen {
		t.Errorf("Snippet rune count = %d, want %d", got, SnippetLen)
	}
	if got := Snippet("  hello\n\n  world\t "); got != "hello world" {
		t.Errorf("Snippet whitespace = %q, want %q", got, "hello world")
	}
}

func TestTruncateAndEllipsize(t *testing.T) {
	tests := []struct {
		in        string
		max       int
		truncated string
		ellipsis  string
	}{
		{"hello", 10, "hello", "hello"},
		{"hello world", 5, "hello", "he..."},
		{"日本語テキスト", 3, "日本語", "日本語"},
		{"abc", 0, "", ""},
	}
	for _, tt := range tests {
		if got := TruncateRunes(tt.in, tt.max); got != tt.truncated {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.truncated)
		}
		if got := Ellipsize(tt.in, tt.max); got != tt.ellipsis {
			t.Errorf("Ellipsize(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.ellipsis)
		}
	}
}
