package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/adalundhe/rad/core/cob"
	"github.com/adalundhe/rad/core/cob/label"
)

// =============================================================================
// Output Format Type
// =============================================================================

// OutputFormat selects how commands print results.
type OutputFormat string

const (
	// OutputTable prints aligned columns or labelled fields.
	OutputTable OutputFormat = "table"
	// OutputJSON prints indented JSON.
	OutputJSON OutputFormat = "json"
)

// parseOutputFormat defaults to table for unknown values.
func parseOutputFormat(s string) OutputFormat {
	switch strings.ToLower(s) {
	case "json":
		return OutputJSON
	default:
		return OutputTable
	}
}

func format() OutputFormat {
	return parseOutputFormat(outputFormat)
}

// =============================================================================
// Writers
// =============================================================================

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))
	return tw
}

// listing is the JSON shape of one object in a list.
type listing[T any] struct {
	ID    cob.ObjectID `json:"id"`
	Value T            `json:"value"`
}

func listings[T any](objs []cob.Object[T]) []listing[T] {
	out := make([]listing[T], len(objs))
	for i, o := range objs {
		out[i] = listing[T]{ID: o.ID, Value: o.Value}
	}
	return out
}

// =============================================================================
// Field Formatting
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatLabels(names []label.Name) string {
	if len(names) == 0 {
		return "-"
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n.String()
	}
	return strings.Join(parts, ",")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// writeThreads prints a discussion with replies indented under their root.
func writeThreads(w io.Writer, threads []cob.Thread, offset int) {
	for i, t := range threads {
		fmt.Fprintf(w, "[%d] %s (%s)\n", offset+i, t.Author.Name(), formatTime(t.Timestamp))
		writeBody(w, t.Body, "    ")
		for _, r := range t.Replies {
			fmt.Fprintf(w, "    > %s (%s)\n", r.Author.Name(), formatTime(r.Timestamp))
			writeBody(w, r.Body, "      ")
		}
		writeReactions(w, t.Reactions)
	}
}

func writeBody(w io.Writer, body, indent string) {
	for _, line := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		fmt.Fprintf(w, "%s%s\n", indent, line)
	}
}

func writeReactions(w io.Writer, reactions map[cob.Reaction]int) {
	if len(reactions) == 0 {
		return
	}
	var parts []string
	for r, n := range reactions {
		parts = append(parts, fmt.Sprintf("%s %d", r, n))
	}
	sort.Strings(parts)
	fmt.Fprintf(w, "    %s\n", strings.Join(parts, "  "))
}
