package bookstream

import "testing"

func TestRepairMarkup(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare attribute", `<script src="a.js" crossorigin></script>`,
			`<script src="a.js" crossorigin="crossorigin"></script>`},
		{"unquoted value", `<td colspan=2>x</td>`, `<td colspan="2">x</td>`},
		{"single quoted", `<a href='ch2.xhtml'>next</a>`, `<a href="ch2.xhtml">next</a>`},
		{"single quoted with double quote", `<a title='say "hi"'>x</a>`,
			`<a title="say &quot;hi&quot;">x</a>`},
		{"missing namespace", `<html><body/></html>`,
			`<html xmlns="http://www.w3.org/1999/xhtml"><body/></html>`},
		{"missing namespace with attributes", `<html lang=en>`,
			`<html lang="en" xmlns="http://www.w3.org/1999/xhtml">`},
		{"prefixed namespace only", `<html xmlns:epub="http://www.idpf.org/2007/ops">`,
			`<html xmlns:epub="http://www.idpf.org/2007/ops" xmlns="http://www.w3.org/1999/xhtml">`},
		{"namespace kept", `<html xmlns="http://www.w3.org/1999/xhtml">`,
			`<html xmlns="http://www.w3.org/1999/xhtml">`},
		{"self-closed paired tag", `<div/><p>after</p>`, `<div></div><p>after</p>`},
		{"self-closed with space", `<br />text`, `<br></br>text`},
		{"self-closed script", `<script src="a.js"/>`, `<script src="a.js"></script>`},
		{"other self-closed tag kept", `<col width="10"/>`, `<col width="10"/>`},
		{"comment untouched", `<!-- <b>not a tag</b> -->`, `<!-- <b>not a tag</b> -->`},
		{"doctype untouched", `<!DOCTYPE html>`, `<!DOCTYPE html>`},
		{"prolog untouched", `<?xml version="1.0"?>`, `<?xml version="1.0"?>`},
		{"text untouched", `plain & text`, `plain & text`},
		{"prefixed attribute", `<p xml:lang=fr>x</p>`, `<p xml:lang="fr">x</p>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(repairMarkup([]byte(tt.input))); got != tt.want {
				t.Errorf("repairMarkup(%q):\n got: %s\nwant: %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRepairMarkup_Idempotent(t *testing.T) {
	input := []byte(`<html><head><script src="a.js" crossorigin/></head><body><p class=x>Hi<br/></p></body></html>`)
	once := repairMarkup(input)
	twice := repairMarkup(once)
	if string(once) != string(twice) {
		t.Errorf("repairMarkup not idempotent:\n once: %s\ntwice: %s", once, twice)
	}
}
