package catalog

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/migration"
	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

// Command lists the feature templates customers can select.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Feature template catalog",
	}
	cmd.AddCommand(listCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List feature keys and the tables they create",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := migration.DefaultCatalog()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cat.Features())
			}
			renderFeatures(cmd.OutOrStdout(), cat.Features())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderFeatures(w io.Writer, features []service.FeatureInfo) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"KEY", "TITLE", "TABLES"})
	for _, f := range features {
		tw.Append([]string{f.Key, f.Title, strings.Join(f.Tables, ", ")})
	}
	tw.Render()
}
