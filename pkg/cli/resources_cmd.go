package cli

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newResourcesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List storage resources visible to the token",
	}
	cmd.AddCommand(newResourcesBucketsCmd(g))
	cmd.AddCommand(newResourcesTablesCmd(g))
	return cmd
}

func newResourcesBucketsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "List buckets",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := g.open(cmd, "")
			if err != nil {
				return err
			}
			buckets, err := s.client.ListBuckets(cmd.Context())
			if err != nil {
				return userFacing(err)
			}

			out := cmd.OutOrStdout()
			if g.output == "table" {
				rows := make([][]string, 0, len(buckets))
				for _, b := range buckets {
					rows = append(rows, []string{b.ID, b.Name, b.Stage, b.Backend, b.DisplayName})
				}
				return printTable(out, []string{"id", "name", "stage", "backend", "display name"}, rows)
			}
			raw := make([]json.RawMessage, 0, len(buckets))
			for _, b := range buckets {
				raw = append(raw, b.Raw)
			}
			return printJSON(out, raw)
		},
	}
}

func newResourcesTablesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <bucketId>",
		Short: "List tables of a bucket",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd, "")
			if err != nil {
				return err
			}
			tables, err := s.client.ListTables(cmd.Context(), args[0])
			if err != nil {
				return userFacing(err)
			}

			out := cmd.OutOrStdout()
			if g.output == "table" {
				rows := make([][]string, 0, len(tables))
				for _, t := range tables {
					rows = append(rows, []string{t.ID, t.Name, strconv.FormatBool(t.IsTyped), strings.Join(t.PrimaryKey, ",")})
				}
				return printTable(out, []string{"id", "name", "typed", "primary key"}, rows)
			}
			raw := make([]json.RawMessage, 0, len(tables))
			for _, t := range tables {
				raw = append(raw, t.Raw)
			}
			return printJSON(out, raw)
		},
	}
}
