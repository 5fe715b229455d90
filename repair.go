package bookstream

import (
	"regexp"
	"strings"
)

const xhtmlNamespace = "http://www.w3.org/1999/xhtml"

var (
	// startTagPattern matches start and self-closing tags. Comments, doctypes
	// and processing instructions do not start with a letter and are left alone.
	startTagPattern = regexp.MustCompile(`<([A-Za-z][\w:.-]*)((?:\s[^<>]*?)?)\s*(/?)>`)

	// attrPattern matches one attribute with an optional value in any of the
	// three quoting styles.
	attrPattern = regexp.MustCompile(`([^\s=/"'<>]+)(?:\s*=\s*("[^"]*"|'[^']*'|[^\s"'<>]+))?`)

	defaultNamespacePattern = regexp.MustCompile(`(?i)(^|\s)xmlns\s*=`)
)

// pairedTags must not be self-closed in markup fed to an HTML-aware consumer.
// A self-closed <script/> or <div/> swallows the rest of the document there.
var pairedTags = map[string]bool{
	"script": true, "style": true, "div": true, "span": true, "p": true, "a": true,
	"img": true, "br": true, "hr": true, "meta": true, "link": true,
}

// repairMarkup normalizes the malformations most often found in chapter
// markup: attributes without values or quotes, an html root without the
// XHTML default namespace, and self-closed tags from pairedTags. Everything
// outside start tags is copied verbatim.
func repairMarkup(data []byte) []byte {
	return startTagPattern.ReplaceAllFunc(data, func(tag []byte) []byte {
		m := startTagPattern.FindSubmatch(tag)
		name := string(m[1])
		lower := strings.ToLower(name)
		attrs := repairAttributes(string(m[2]))
		if lower == "html" && !defaultNamespacePattern.MatchString(attrs) {
			attrs += ` xmlns="` + xhtmlNamespace + `"`
		}

		var b strings.Builder
		b.Grow(len(tag) + len(name) + 16)
		b.WriteByte('<')
		b.WriteString(name)
		b.WriteString(attrs)
		switch {
		case len(m[3]) == 0:
			b.WriteByte('>')
		case pairedTags[lower]:
			b.WriteString("></")
			b.WriteString(name)
			b.WriteByte('>')
		default:
			b.WriteString("/>")
		}
		return []byte(b.String())
	})
}

// repairAttributes rewrites an attribute list so every attribute has a
// double-quoted value. A bare attribute takes its own name as value, the
// XHTML convention for boolean attributes (crossorigin="crossorigin").
func repairAttributes(attrs string) string {
	if strings.TrimSpace(attrs) == "" {
		return ""
	}
	var b strings.Builder
	for _, m := range attrPattern.FindAllStringSubmatch(attrs, -1) {
		name, value := m[1], m[2]
		b.WriteByte(' ')
		b.WriteString(name)
		b.WriteByte('=')
		switch {
		case value == "":
			b.WriteString(`"` + name + `"`)
		case value[0] == '"':
			b.WriteString(value)
		case value[0] == '\'':
			b.WriteString(`"` + strings.ReplaceAll(value[1:len(value)-1], `"`, "&quot;") + `"`)
		default:
			b.WriteString(`"` + value + `"`)
		}
	}
	return b.String()
}
