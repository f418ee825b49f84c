// Command pose-export writes the camera trajectory of every complete
// capture under a directory as CSV (timestamp,x,y,z,qx,qy,qz,qw).
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/depthlink/internal/archive"
)

var (
	root   = flag.String("root", "captures", "Capture root directory")
	output = flag.String("o", "", "Output CSV path (default stdout)")
)

func main() {
	flag.Parse()

	frames, incomplete, err := archive.Open(*root, nil).LoadComplete()
	if err != nil {
		log.Fatalf("failed to read captures: %v", err)
	}
	for _, e := range incomplete {
		log.Printf("skipping incomplete capture %s (missing %v, partial %v)", e.ID, e.Missing, e.Partial)
	}
	if len(frames) == 0 {
		log.Fatalf("no complete captures under %s", *root)
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *output, err)
		}
		defer f.Close()
		w = f
	}
	if err := archive.WritePoseCSV(w, frames); err != nil {
		log.Fatalf("failed to write poses: %v", err)
	}
	if *output != "" {
		fmt.Fprintf(os.Stderr, "wrote %d poses to %s\n", len(frames), *output)
	}
}
