package main

import (
	"fmt"
	"os"

	"github.com/ashita-ai/hirameki/cmd/hiractl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
