// Command pcsctl runs one-off lookups against the ICD-10-PCS references.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
