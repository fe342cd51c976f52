// Command stencilc compiles a solution DSL spec into a binary descriptor
// file consumed by stencilctl and the runtime solution package.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/sbl8/stencilkit/compiler"
)

func main() {
	var (
		validate = flag.Bool("validate", true, "check bundle/pack referential integrity")
		mergeHalos = flag.Bool("merge-halos", true, "collapse duplicate halo requirements to their maximum")
		verbose  = flag.Bool("verbose", false, "print compilation progress")
		version  = flag.Bool("version", false, "show version information")
	)
	flag.Parse()

	if *version {
		fmt.Println("stencilc - stencilkit compiler v1.0.0")
		return
	}

	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <src.sks> <out.skd>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	srcFile, outFile := args[0], args[1]
	opts := compiler.CompileOptions{
		Validate:   *validate,
		MergeHalos: *mergeHalos,
		Verbose:    *verbose,
	}

	if err := compiler.CompileWithOptions(srcFile, outFile, opts); err != nil {
		log.Fatalf("compilation failed: %v", err)
	}

	fmt.Printf("successfully compiled %s -> %s\n", srcFile, outFile)
}
