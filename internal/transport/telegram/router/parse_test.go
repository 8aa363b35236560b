package router

import (
	"reflect"
	"testing"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text, bot  string
		word, rest string
		ok         bool
	}{
		{"/mark gcc outdated  needs  15.1", "", "mark", "gcc outdated  needs  15.1", true},
		{"/Status@RvBot", "rvbot", "status", "", true},
		{"/status@other_bot", "rvbot", "", "", false},
		{"hello /add gcc", "", "", "", false},
		{"/", "", "", "", false},
	}
	for _, tc := range cases {
		word, rest, ok := splitCommand(tc.text, tc.bot)
		if word != tc.word || rest != tc.rest || ok != tc.ok {
			t.Errorf("splitCommand(%q) = %q, %q, %v", tc.text, word, rest, ok)
		}
	}
}

func TestSplitArgsKeepsCommentSpacing(t *testing.T) {
	t.Parallel()
	words, rest := splitArgs("  gcc  outdated_dep [llvm]  waits   upstream ", 2)
	if !reflect.DeepEqual(words, []string{"gcc", "outdated_dep"}) {
		t.Fatalf("words = %q", words)
	}
	if rest != "[llvm]  waits   upstream" {
		t.Fatalf("rest = %q", rest)
	}
	words, rest = splitArgs("gcc", 2)
	if len(words) != 1 || rest != "" {
		t.Fatalf("short input = %q, %q", words, rest)
	}
}

func TestTokenizeQuotes(t *testing.T) {
	t.Parallel()
	got := tokenize(`gcc "two words" 'x y' a\ b`)
	want := []string{"gcc", "two words", "x y", "a b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
}

func TestMenuName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"Mark":         "mark",
		"more-details": "more_details",
		"9lives":       "cmd_9lives",
		"__":           "",
	}
	for in, want := range cases {
		if got := menuName(in); got != want {
			t.Errorf("menuName(%q) = %q, want %q", in, got, want)
		}
	}
}
