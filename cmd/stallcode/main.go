// Command stallcode is the terminal client: list codes around a position,
// add one, vote, or load the demo data. It talks to a local SQLite file
// directly and keeps its device identity in the state directory.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "stallcode:", err)
		os.Exit(1)
	}
}
