package main

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
)

// ValidateCmd loads the configuration and prints the handles it defines.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	handles, err := cfg.LimiterHandles()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HANDLE\tSTRATEGY\tTHRESHOLD\tINTERVAL\tBURST")
	for _, name := range slices.Sorted(maps.Keys(handles)) {
		h := handles[name]
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n", name, h.Strategy, h.Threshold, h.Interval, h.BurstRate)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("store: %s\n", cfg.Store.Backend)
	return nil
}
