// Command udbe-inspect dumps diagnostic information about a MultiIndex
// or HeapFile on disk: index metadata, tree height, leaf-chain length,
// and heap utilization. It is grounded on the teacher's
// cmd/inspect_idx, rewired to the renamed module's programmatic surface
// instead of reaching into package internals.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"udbe/udbe"
)

func main() {
	kind := flag.String("kind", "multiindex", "file kind to inspect: multiindex or heap")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: udbe-inspect [-kind multiindex|heap] <path>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var err error
	switch *kind {
	case "multiindex":
		err = inspectMultiIndex(path, logger)
	case "heap":
		err = inspectHeap(path, logger)
	default:
		err = fmt.Errorf("unknown -kind %q", *kind)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "udbe-inspect:", err)
		os.Exit(1)
	}
}

func inspectMultiIndex(path string, logger *slog.Logger) error {
	mi, err := udbe.OpenMultiIndex(path, udbe.WithLogger(logger))
	if err != nil {
		return err
	}
	defer mi.Close()

	stats, err := mi.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", path, stats)
	for i := 1; i <= mi.NumIndexes(); i++ {
		ix, err := mi.Index(i)
		if err != nil {
			return err
		}
		fmt.Printf("  [%d] %q key_type=%s key_size=%d height=%d unique=%v delete=%v entries=%d\n",
			i, ix.Label(), ix.KeyType(), ix.KeySize(), ix.Height(), ix.IsUnique(), ix.CanDelete(), stats.Entries[i-1])
	}
	return nil
}

func inspectHeap(path string, logger *slog.Logger) error {
	f, err := udbe.OpenHeap(path, udbe.WithLogger(logger))
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := f.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s (utilization %.1f%%)\n", path, stats.String(), stats.Utilization()*100)
	return nil
}
