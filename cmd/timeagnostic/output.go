package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coolbeans/timeagnostic/pkg/agnostic"
	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/instant"
	"github.com/coolbeans/timeagnostic/pkg/query"
	"github.com/coolbeans/timeagnostic/pkg/server"
	"github.com/coolbeans/timeagnostic/pkg/store"
)

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("format")
	return strings.ToLower(format)
}

func unsupportedFormat(format string, supported ...string) error {
	return errors.WithHintf(errors.Newf("unsupported format %q", format),
		"use one of: %s", strings.Join(supported, ", "))
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(cmd *cobra.Command, format string, v interface{}) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return unsupportedFormat(format, "json", "yaml")
}

func writeWarnings(w io.Writer, warnings []string) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "# warning: %s\n", warn)
	}
}

// writeEntity renders a history or state. RDF formats print one document
// per instant, oldest first, each after a "# <instant>" line.
func writeEntity(cmd *cobra.Command, doc *server.EntityDocument) error {
	format := outputFormat(cmd)
	out := cmd.OutOrStdout()
	switch format {
	case "json", "yaml":
		return writeStructured(cmd, format, doc)
	case "nquads":
		writeWarnings(out, doc.Warnings)
		for _, ts := range doc.Timestamps() {
			fmt.Fprintf(out, "# %s\n", ts)
			if err := store.WriteNQuads(out, doc.States[ts]); err != nil {
				return err
			}
		}
		return nil
	case "trig":
		writeWarnings(out, doc.Warnings)
		serializer := store.NewTriGSerializer()
		for _, ts := range doc.Timestamps() {
			fmt.Fprintf(out, "# %s\n%s\n", ts, serializer.Serialize(doc.States[ts]))
		}
		return nil
	case "rdfxml":
		writeWarnings(out, doc.Warnings)
		serializer := store.NewRDFXMLSerializer()
		for _, ts := range doc.Timestamps() {
			fmt.Fprintf(out, "# %s\n%s\n", ts, serializer.Serialize(doc.States[ts]))
		}
		return nil
	case "dot":
		for _, ts := range doc.Timestamps() {
			fmt.Fprintf(out, "# %s\n%s\n", ts, store.ExportGraph(doc.States[ts]).ToDOT(ts))
		}
		return nil
	case "table":
		fmt.Fprintf(out, "Entity: %s\n", doc.Entity)
		if len(doc.Satellites) > 0 {
			fmt.Fprintf(out, "Related: %s\n", strings.Join(doc.Satellites, ", "))
		}
		fmt.Fprintf(out, "Materializations: %d\n\n", doc.Overhead)
		fmt.Fprintf(out, "%-22s %s\n", "INSTANT", "STATEMENTS")
		for _, ts := range doc.Timestamps() {
			fmt.Fprintf(out, "%-22s %d\n", ts, doc.States[ts].Len())
		}
		writeWarnings(out, doc.Warnings)
		return nil
	}
	return unsupportedFormat(format, "json", "yaml", "nquads", "trig", "rdfxml", "dot", "table")
}

func writeVersions(cmd *cobra.Command, res *agnostic.VersionResult) error {
	format := outputFormat(cmd)
	out := cmd.OutOrStdout()
	switch format {
	case "json", "yaml":
		return writeStructured(cmd, format, res.Document())
	case "table", "csv":
		for _, ts := range res.Timestamps() {
			rows := res.Results[ts]
			result := &query.QueryResult{Variables: res.Variables, Bindings: rows, Count: len(rows)}
			text, err := result.Format(query.OutputFormat(format))
			if err != nil {
				return err
			}
			if format == "csv" {
				fmt.Fprintf(out, "# %s\n%s", instant.Format(ts), text)
			} else {
				fmt.Fprintf(out, "== %s ==\n%s\n", instant.Format(ts), text)
			}
		}
		writeWarnings(out, warningTexts(res.Warnings))
		return nil
	}
	return unsupportedFormat(format, "json", "yaml", "table", "csv")
}

func writeDeltas(cmd *cobra.Command, doc *server.DeltaDocument) error {
	format := outputFormat(cmd)
	out := cmd.OutOrStdout()
	switch format {
	case "json", "yaml":
		return writeStructured(cmd, format, doc)
	case "table":
		entities := make([]string, 0, len(doc.Entities))
		for uri := range doc.Entities {
			entities = append(entities, uri)
		}
		sort.Strings(entities)
		for _, uri := range entities {
			d := doc.Entities[uri]
			fmt.Fprintf(out, "%s\n", uri)
			if d.Created != "" {
				fmt.Fprintf(out, "  created   %s\n", d.Created)
			}
			modified := make([]string, 0, len(d.Modified))
			for ts := range d.Modified {
				modified = append(modified, ts)
			}
			sort.Strings(modified)
			for _, ts := range modified {
				fmt.Fprintf(out, "  modified  %s  %s\n", ts, truncateString(d.Modified[ts], 60))
			}
			if d.Deleted != "" {
				fmt.Fprintf(out, "  deleted   %s\n", d.Deleted)
			}
		}
		writeWarnings(out, doc.Warnings)
		return nil
	}
	return unsupportedFormat(format, "json", "yaml", "table")
}

func warningTexts(warnings []error) []string {
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = w.Error()
	}
	return out
}

func truncateString(inputStr string, maxLength int) string {
	inputStr = strings.Join(strings.Fields(inputStr), " ")
	if len(inputStr) <= maxLength {
		return inputStr
	}
	return inputStr[:maxLength-3] + "..."
}
