// Command openperu-ingest scrapes Peruvian congress bills and
// congresspeople into structured records.
package main

import (
	"os"

	"github.com/JakeFAU/openperu-ingest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
