package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Inspect the clinic roles",
		Long:  "Show the fixed role table: each role's landing route and the permission statements it grants.",
	}

	cmd.AddCommand(newRoleListCmd())

	return cmd
}

// ---------- role list ----------

type roleRow struct {
	Name        string   `json:"name"`
	Landing     string   `json:"landing"`
	Permissions []string `json:"permissions"`
}

func roleRows() []roleRow {
	all := authz.All()
	rows := make([]roleRow, len(all))
	for i, r := range all {
		grants := authz.Grants(r)
		perms := make([]string, len(grants))
		for j, s := range grants {
			perms[j] = s.String()
		}
		rows[i] = roleRow{
			Name:        r.String(),
			Landing:     gate.LandingRoute([]authz.Role{r}),
			Permissions: perms,
		}
	}
	return rows
}

func newRoleListCmd() *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), roleRows())
			}
			writeRoleTable(cmd.OutOrStdout(), roleRows(), verbose)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every granted statement")

	return cmd
}

func writeRoleTable(w io.Writer, rows []roleRow, verbose bool) {
	fmt.Fprintf(w, "%-10s %-10s %-8s\n", "NAME", "LANDING", "GRANTS")
	fmt.Fprintf(w, "%-10s %-10s %-8s\n", "----", "-------", "------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-10s %-10s %-8d\n", r.Name, r.Landing, len(r.Permissions))
		if verbose {
			fmt.Fprintf(w, "    %s\n", strings.Join(r.Permissions, " "))
		}
	}
}
