package tagsplit_test

import (
	"fmt"

	"chatrelay-backend/internal/tagsplit"
)

func ExampleSplitter() {
	s := tagsplit.New()
	for _, chunk := range []string{"<thi", "nk>a</think>Hello"} {
		for _, span := range s.Feed(chunk) {
			fmt.Printf("%s: %q\n", span.Channel, span.Text)
		}
	}
	for _, span := range s.Flush() {
		fmt.Printf("%s: %q\n", span.Channel, span.Text)
	}
	// Output:
	// reasoning: "a"
	// content: "Hello"
}
