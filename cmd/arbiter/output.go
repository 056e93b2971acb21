package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"golang.org/x/term"
)

// wantJSON reports whether results should be printed as JSON. An explicit
// --output wins; otherwise pipes and files get JSON and terminals a table.
func wantJSON(format string, w io.Writer) (bool, error) {
	switch format {
	case "json":
		return true, nil
	case "table":
		return false, nil
	case "":
		f, ok := w.(*os.File)
		return !ok || !term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown output format %q (want json or table)", format)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// row is one label/value line of a table.
type row struct {
	label string
	value any
}

func printTable(w io.Writer, rows []row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		if r.value == nil {
			continue
		}
		if s, ok := r.value.(string); ok && s == "" {
			continue
		}
		fmt.Fprintf(tw, "%s\t%v\n", r.label, r.value)
	}
	return tw.Flush()
}

// render prints v as JSON or as the rows produced by table.
func render(w io.Writer, format string, v any, table func() []row) error {
	asJSON, err := wantJSON(format, w)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(w, v)
	}
	return printTable(w, table())
}
