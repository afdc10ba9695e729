// Command agent is a terminal assistant for Sri Lankan market and economic
// questions. It answers with an LLM that can call a calculator, a web page
// fetcher and a local knowledge base.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
