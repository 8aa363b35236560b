package tgui

import "testing"

func TestHTMLHelpers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		got  H
		want string
	}{
		{"esc", Esc("a<b>&"), "a&lt;b&gt;&amp;"},
		{"bold", B("x<y"), "<b>x&lt;y</b>"},
		{"code", Code("pkg"), "<code>pkg</code>"},
		{"mention", Mention("al\"ice", 42), `<a href="tg://user?id=42">al&#34;ice</a>`},
		{"join skips blanks", JoinH(", ", "a", " ", "b"), "a, b"},
	}
	for _, tt := range tests {
		if tt.got.String() != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo wörld", 5); got != "héllo…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("abc", 3); got != "abc" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("abc", 0); got != "" {
		t.Fatalf("TruncRunes = %q", got)
	}
}

func TestLines(t *testing.T) {
	t.Parallel()
	var l Lines
	l.Add(B("title")).Addf("%d items", 2)
	if got := l.H().String(); got != "<b>title</b>\n2 items" {
		t.Fatalf("Lines = %q", got)
	}
}
