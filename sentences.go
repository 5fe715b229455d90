package bookstream

import (
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
)

var sentenceTokenizer = sync.OnceValues(func() (*sentences.DefaultSentenceTokenizer, error) {
	return english.NewSentenceTokenizer(nil)
})

// Sentence returns the sentence around the token at a global index, so a term
// lookup can show the word in context. The sentence never crosses a
// paragraph boundary. When no sentence model is available the whole
// paragraph is returned.
func (l *Layout) Sentence(global int) (string, bool) {
	p, off, ok := l.Resolve(global)
	if !ok {
		return "", false
	}
	tokens := l.paragraphs[p].Tokens
	offsets := make([]int, len(tokens))
	text := joinTokens(tokens, offsets)

	tok, err := sentenceTokenizer()
	if err != nil {
		return text, true
	}
	pos := offsets[off]
	for _, s := range tok.Tokenize(text) {
		if pos >= s.Start && pos < s.End {
			return strings.TrimSpace(s.Text), true
		}
	}
	return text, true
}
