package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hipims/modelbuilder/internal/config"
)

// runClean removes the workspace artifacts of tiles: archives, extracted
// cells and mosaics. By default prompts for confirmation unless -force is
// specified.
func runClean(args []string) int {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	common := addCommonFlags(fs)

	force := fs.Bool("force", false, "Skip confirmation prompt")
	all := fs.Bool("all", false, "Empty the whole workspace")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelbuilder clean [options] [TILE...]

Remove everything the workspace holds for the given tiles, or with -all
every object in the workspace.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	ids := fs.Args()
	if len(ids) == 0 && !*all {
		fmt.Fprintln(os.Stderr, "Error: give tile references or -all")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := common.load(config.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	// Confirm deletion unless -force
	if !*force {
		what := "tiles " + strings.Join(ids, ", ")
		if *all {
			what = "everything"
		}
		fmt.Printf("Delete %s from %s? [y/N]: ", what, cfg.Workspace)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return ExitSuccess
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return fail(err)
	}
	defer a.close()

	if *all {
		n, err := a.ws.DeleteAll(ctx)
		if err != nil {
			return fail(err)
		}
		fmt.Fprintf(os.Stderr, "[mb] Deleted %d objects from %s\n", n, a.ws.Location())
		return ExitSuccess
	}

	total := 0
	for _, id := range ids {
		n, err := a.ws.Clean(ctx, strings.ToUpper(id))
		if err != nil {
			return fail(err)
		}
		fmt.Fprintf(os.Stderr, "[mb] %s: deleted %d objects\n", strings.ToUpper(id), n)
		total += n
	}
	fmt.Fprintf(os.Stderr, "[mb] Deleted %d objects from %s\n", total, a.ws.Location())
	return ExitSuccess
}
