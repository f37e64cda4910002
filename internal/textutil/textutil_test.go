package textutil

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"hello world", []string{"hello", "world"}},
		{"user_name", []string{"user_name"}},
		{"e.g. U.S.", []string{"e.g.", "U.S."}},
		{"", nil},
		{"  spaces  ", []string{"spaces"}},
		{"café\trésumé\n", []string{"café", "résumé"}},
		{"北京 欢迎 你", []string{"北京", "欢迎", "你"}},
	}
	for _, tt := range tests {
		got := Tokenize(tt.input)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeWhitespaces(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"a\nb", "a b"},
		{"a   b", "a b"},
		{"a\r\n\tb", "a b"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := NormalizeWhitespaces(tt.input); got != tt.want {
			t.Errorf("NormalizeWhitespaces(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestClean(t *testing.T) {
	if got := Clean("  New \n York  "); got != "New York" {
		t.Errorf("Clean = %q, want %q", got, "New York")
	}
}

func TestSentenceKey(t *testing.T) {
	tests := []struct {
		words []string
		want  string
	}{
		{[]string{"a", "b"}, "a\tb"},
		{[]string{"Mr.", "Smith"}, "Mr$period$\tSmith"},
		{[]string{"1/2", "cup"}, "1$backslash$2\tcup"},
		{[]string{"a.b/c"}, "a$period$b$backslash$c"},
	}
	for _, tt := range tests {
		if got := SentenceKey(tt.words); got != tt.want {
			t.Errorf("SentenceKey(%q) = %q, want %q", tt.words, got, tt.want)
		}
	}
}
