package bookstream

import (
	"testing"
)

func TestPreprocessHTMLEntities(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"basic", `<title>Hello&nbsp;World &mdash; An&hellip; Introduction</title>`,
			`<title>Hello&#160;World &#8212; An&#8230; Introduction</title>`},
		{"quotation marks", `&ldquo;Hello&rdquo; &lsquo;World&rsquo;`,
			`&#8220;Hello&#8221; &#8216;World&#8217;`},
		{"symbols", `&copy; 2024 &reg; Company&trade;`, `&#169; 2024 &#174; Company&#8482;`},
		{"accented", `caf&eacute; M&uuml;ller`, `caf&#233; M&#252;ller`},
		{"upper case name", `&NBSP;`, `&#160;`},
		{"dashes", `2020&ndash;2024 &mdash; a range`, `2020&#8211;2024 &#8212; a range`},
		{"xml entities preserved", `&amp; &lt; &gt; &quot; &apos;`, `&amp; &lt; &gt; &quot; &apos;`},
		{"unknown entity preserved", `&bogus;`, `&bogus;`},
		{"no entities", `<p>Plain text</p>`, `<p>Plain text</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(preprocessHTMLEntities([]byte(tt.input))); got != tt.want {
				t.Errorf("preprocessHTMLEntities():\n got: %s\nwant: %s", got, tt.want)
			}
		})
	}
}

func TestNormalizeSelfClosingSkipTags(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`<script src="a.js"/><p>x</p>`, `<script src="a.js"></script><p>x</p>`},
		{`<STYLE/>`, `<STYLE></STYLE>`},
		{`<p>untouched</p>`, `<p>untouched</p>`},
	}
	for _, tt := range tests {
		if got := string(normalizeSelfClosingSkipTags([]byte(tt.input))); got != tt.want {
			t.Errorf("normalizeSelfClosingSkipTags(%q) = %q; want %q", tt.input, got, tt.want)
		}
	}
}

func TestTextBuilder(t *testing.T) {
	var tb textBuilder
	tb.text("  Hello ")
	tb.text("wor")
	tb.text("ld")
	tb.block()
	tb.block()
	tb.text("\n\t")
	tb.text("Next   line")
	tb.block()

	if got, want := tb.String(), "Hello world\nNext line"; got != want {
		t.Errorf("textBuilder = %q; want %q", got, want)
	}
}
