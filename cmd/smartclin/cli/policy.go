package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/gate"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the page route policy",
		Long:  "List the route patterns and their allowed roles, or check what the page gate does for a path.",
	}

	cmd.AddCommand(newPolicyListCmd())
	cmd.AddCommand(newPolicyCheckCmd())

	return cmd
}

// ---------- policy list ----------

func newPolicyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List route patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := gate.DefaultPolicy()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"sign_in": p.SignInPath(),
					"entries": p.Entries(),
				})
			}
			writePolicyTable(cmd.OutOrStdout(), p)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func writePolicyTable(w io.Writer, p *gate.Policy) {
	fmt.Fprintf(w, "%-24s %s\n", "PATTERN", "ROLES")
	fmt.Fprintf(w, "%-24s %s\n", "-------", "-----")
	for _, e := range p.Entries() {
		fmt.Fprintf(w, "%-24s %s\n", e.Pattern, strings.Join(e.Roles, ", "))
	}
	fmt.Fprintf(w, "\nUnlisted paths require a signed-in caller. Sign-in page: %s\n", p.SignInPath())
}

// ---------- policy check ----------

func newPolicyCheckCmd() *cobra.Command {
	var roleNames []string

	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Show the page gate's decision for a path",
		Example: `  smartclin policy check /record/patients              # anonymous caller
  smartclin policy check /record/doctors/42 --roles doctor
  smartclin policy check /admin --roles patient,staff`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var roles []authz.Role
			if cmd.Flags().Changed("roles") {
				roles = make([]authz.Role, 0, len(roleNames))
				for _, n := range roleNames {
					r, err := authz.Lookup(n)
					if err != nil {
						return err
					}
					roles = append(roles, r)
				}
			}
			writeDecision(cmd.OutOrStdout(), gate.DefaultPolicy().Evaluate(args[0], "", roles), roles)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&roleNames, "roles", nil, "Roles of a signed-in caller (omit for anonymous)")

	return cmd
}

func writeDecision(w io.Writer, d gate.PageDecision, roles []authz.Role) {
	caller := "anonymous"
	if roles != nil {
		caller = "roles " + authz.JoinRoles(roles)
		if len(roles) == 0 {
			caller = "signed in, no roles"
		}
	}
	pattern := d.Match.Pattern
	if d.Match.Fallback() {
		pattern = "(fallback: any signed-in caller)"
	}

	fmt.Fprintf(w, "Path:     %s\n", d.Match.Path)
	fmt.Fprintf(w, "Class:    %s\n", d.Match.Class)
	fmt.Fprintf(w, "Pattern:  %s\n", pattern)
	if allowed := d.Match.Rule.Roles(); len(allowed) > 0 {
		fmt.Fprintf(w, "Allowed:  %s\n", authz.JoinRoles(allowed))
	}
	fmt.Fprintf(w, "Caller:   %s\n", caller)
	fmt.Fprintf(w, "Outcome:  %s\n", d.Outcome)
	if d.Location != "" {
		fmt.Fprintf(w, "Location: %s\n", d.Location)
	}
}
