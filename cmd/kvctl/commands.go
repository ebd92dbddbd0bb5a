package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dreamware/torua-kv/internal/batch"
	"github.com/dreamware/torua-kv/internal/client"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// printRecord renders the metadata and the bins of rec in name order
func printRecord(w io.Writer, rec *record.Record) {
	t := newTable(w)
	t.AppendHeader(table.Row{"digest", "generation", "ttl"})
	t.AppendRow(table.Row{rec.Key.Digest, rec.Metadata.Generation, rec.Metadata.TTL})
	t.Render()

	if rec.Bins == nil {
		return
	}
	names := make([]string, 0, len(rec.Bins))
	for name := range rec.Bins {
		names = append(names, name)
	}
	sort.Strings(names)

	bins := newTable(w)
	bins.AppendHeader(table.Row{"bin", "value"})
	for _, name := range names {
		bins.AppendRow(table.Row{name, value.Format(rec.Bins[name])})
	}
	bins.Render()
}

// withClient runs fn against a connected client
func (a *app) withClient(cmd *cobra.Command, fn func(c *client.Client) error) error {
	c, err := a.client(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY [BIN...]",
		Short: "Read a record, or only the named bins",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.key(args[0])
			if err != nil {
				return err
			}
			opts, err := a.options()
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *client.Client) error {
				rec, err := c.Get(cmd.Context(), k, args[1:], opts)
				if err != nil {
					return err
				}
				printRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func (a *app) existsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exists KEY",
		Short: "Read the generation and TTL of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.key(args[0])
			if err != nil {
				return err
			}
			opts, err := a.options()
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *client.Client) error {
				rec, err := c.Exists(cmd.Context(), k, opts)
				if err != nil {
					return err
				}
				printRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

// parseBins reads name=value arguments. Values that parse as JSON keep their
// JSON type, anything else is a string.
func parseBins(args []string) (map[string]any, error) {
	bins := make(map[string]any, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, status.New(status.ErrParam, "bin %q is not NAME=VALUE", arg)
		}
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil || dec.More() {
			v = raw
		}
		bins[name] = v
	}
	return bins, nil
}

func (a *app) putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put KEY NAME=VALUE...",
		Short: "Write bins of a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.key(args[0])
			if err != nil {
				return err
			}
			bins, err := parseBins(args[1:])
			if err != nil {
				return err
			}
			opts, err := a.options()
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *client.Client) error {
				if err := c.Put(cmd.Context(), k, bins, opts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", k)
				return nil
			})
		},
	}
}

func (a *app) removeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove KEY",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.key(args[0])
			if err != nil {
				return err
			}
			opts, err := a.options()
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *client.Client) error {
				if err := c.Remove(cmd.Context(), k, opts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", k)
				return nil
			})
		},
	}
}

func (a *app) batchGetCommand() *cobra.Command {
	var bins []string
	cmd := &cobra.Command{
		Use:   "batch-get KEY...",
		Short: "Read many records in one call",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([]*key.Key, len(args))
			for i, pk := range args {
				k, err := a.key(pk)
				if err != nil {
					return err
				}
				keys[i] = k
			}
			opts, err := a.options()
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(c *client.Client) error {
				results, err := c.BatchGet(cmd.Context(), keys, bins, opts)
				if results != nil {
					printBatch(cmd.OutOrStdout(), args, results)
				}
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&bins, "bins", nil, "only read these bins")
	return cmd
}

func printBatch(w io.Writer, pks []string, results []batch.Result) {
	t := newTable(w)
	t.AppendHeader(table.Row{"key", "generation", "bins"})
	for i, r := range results {
		switch {
		case r.Err != nil:
			t.AppendRow(table.Row{pks[i], "-", "error: " + status.CodeOf(r.Err).String()})
		case !r.Found():
			t.AppendRow(table.Row{pks[i], "-", "not found"})
		default:
			t.AppendRow(table.Row{pks[i], r.Metadata.Generation, value.Format(binsMap(r.Bins))})
		}
	}
	t.Render()
}

// binsMap renders bins as one key ordered map value
func binsMap(b value.Bins) value.Value {
	m := value.NewMap(value.MapKeyOrdered)
	for name, v := range b {
		m.Put(value.String(name), v)
	}
	return m
}

func (a *app) digestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "digest KEY",
		Short: "Print the digest and partition of a key without contacting the cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.key(args[0])
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"namespace", "set", "digest", "partition"})
			t.AppendRow(table.Row{k.Namespace, k.Set, k.Digest, k.Partition()})
			t.Render()
			return nil
		},
	}
}
