//go:build ignore

// Writes the three-cluster WebM fixture used by the S1-S6 integration tests
// to disk, for manual inspection.
// Run: go run ./tests/golden/gen_webm_fixture.go
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alxayo/webmrelay/tests/golden"
)

func main() {
	full, offsets := golden.ThreeClusterStream()

	outDir := "tests/golden/testdata"
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "mkdir:", err)
		os.Exit(1)
	}
	path := filepath.Join(outDir, "three_cluster.webm")
	if err := os.WriteFile(path, full, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes, cluster boundaries at %v)\n", path, len(full), offsets)
}
