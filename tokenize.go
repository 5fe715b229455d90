package bookstream

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

type runeClass int

const (
	classSpace runeClass = iota
	classLower
	classUpper
	classLetter // letters without case (CJK, Arabic, ...)
	classDigit
	classPunct
)

func classify(r rune) runeClass {
	switch {
	case unicode.IsSpace(r):
		return classSpace
	case unicode.IsLower(r):
		return classLower
	case unicode.IsUpper(r), unicode.IsTitle(r):
		return classUpper
	case unicode.IsLetter(r):
		return classLetter
	case unicode.IsDigit(r):
		return classDigit
	default:
		return classPunct
	}
}

func isLetterClass(c runeClass) bool {
	return c == classLower || c == classUpper || c == classLetter
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

// Tokenize splits text into word and non-word tokens. Whitespace separates
// tokens and is not itself a token. Punctuation becomes its own token, and
// runs that were accidentally joined are split at letter/digit boundaries
// and where a lowercase run meets a capitalized word ("endThe"). An
// apostrophe between letters stays inside the word.
func Tokenize(text string) []Token {
	text = norm.NFC.String(strings.ToValidUTF8(text, "\uFFFD"))

	var tokens []Token
	start := -1
	spaced := true
	prev := classSpace
	lowerRun := 0

	emit := func(end int) {
		if start < 0 {
			return
		}
		s := text[start:end]
		first, _ := utf8.DecodeRuneInString(s)
		tokens = append(tokens, Token{Text: s, Word: unicode.IsLetter(first), Glued: !spaced})
		start = -1
		spaced = false
	}

	for i, r := range text {
		size := utf8.RuneLen(r)
		if start >= 0 && unicode.Is(unicode.Mn, r) {
			continue
		}
		c := classify(r)
		switch c {
		case classSpace:
			emit(i)
			spaced = true
		case classPunct:
			if start >= 0 && isApostrophe(r) && isLetterClass(prev) && nextIsLetter(text, i+size) {
				continue
			}
			emit(i)
			start = i
			emit(i + size)
		default:
			if start >= 0 && splitBetween(prev, c, lowerRun, text, i+size) {
				emit(i)
			}
			if start < 0 {
				start = i
				lowerRun = 0
			}
			if c == classLower {
				lowerRun++
			} else {
				lowerRun = 0
			}
		}
		prev = c
	}
	emit(len(text))
	return tokens
}

// splitBetween reports whether a token boundary falls between a rune of
// class prev and the next rune of class c. next is the byte offset after the
// rune being classified.
func splitBetween(prev, c runeClass, lowerRun int, text string, next int) bool {
	switch {
	case isLetterClass(prev) && c == classDigit, prev == classDigit && isLetterClass(c):
		return true
	case prev == classLower && c == classUpper:
		// "endThe" splits, "iPhone" and "McDonald" do not.
		return lowerRun >= 2 && nextIsLower(text, next)
	}
	return false
}

func nextIsLetter(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsLetter(r)
}

func nextIsLower(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsLower(r)
}

// joinTokens renders tokens back to text, inserting a space before every
// token that was not glued to its predecessor. offsets receives the byte
// offset of each token in the result when non-nil.
func joinTokens(tokens []Token, offsets []int) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 && !t.Glued {
			b.WriteByte(' ')
		}
		if offsets != nil {
			offsets[i] = b.Len()
		}
		b.WriteString(t.Text)
	}
	return b.String()
}
