package bookstream_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/simp-lee/bookstream"
)

func ExampleIngest() {
	_, err := bookstream.Ingest(context.Background(), []byte("%PDF-1.7\n"))

	var ce *bookstream.ContainerError
	if errors.As(err, &ce) {
		fmt.Println(ce.Kind)
		fmt.Println(ce.Remedy())
	}
	// Output:
	// fixed-layout
	// This is a PDF document. Open it with the PDF reader instead.
}

func ExampleTokenize() {
	for _, tok := range bookstream.Tokenize("Don't stop, endThe story.") {
		fmt.Printf("%q word=%v glued=%v\n", tok.Text, tok.Word, tok.Glued)
	}
	// Output:
	// "Don't" word=true glued=false
	// "stop" word=true glued=false
	// "," word=false glued=true
	// "end" word=true glued=false
	// "The" word=true glued=true
	// "story" word=true glued=false
	// "." word=false glued=true
}

func ExamplePaginate() {
	markup := []byte(`<p>One two three four.</p><p>Five six seven.</p>`)
	layout := bookstream.Paginate(bookstream.Segment(markup), 5)

	for i := 0; i < layout.PageCount(); i++ {
		for _, ps := range layout.PageView(i) {
			fmt.Printf("page %d: paragraph %d from %d, %d tokens continued=%v truncated=%v\n",
				i, ps.Paragraph, ps.Start, len(ps.Tokens), ps.Continued, ps.Truncated)
		}
	}
	// Output:
	// page 0: paragraph 0 from 0, 5 tokens continued=false truncated=false
	// page 1: paragraph 1 from 5, 4 tokens continued=false truncated=false
}

func ExampleDecodePosition() {
	p, _ := bookstream.DecodePosition("350:0.42")
	fmt.Println(p.Offset, p.Progress, p.Word)
	fmt.Println(bookstream.EncodePosition(p))
	// Output:
	// 350 0.42 -1
	// v1:{"offset":350,"progress":0.42,"word":-1}
}
