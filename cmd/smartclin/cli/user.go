package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smartclin/smart-app-clinic-sub000/internal/authz"
	"github.com/smartclin/smart-app-clinic-sub000/internal/config"
	"github.com/smartclin/smart-app-clinic-sub000/internal/model"
	"github.com/smartclin/smart-app-clinic-sub000/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage clinic identities",
		Long:  "Create, list, grant or revoke roles on, ban and unban identities in the credential store.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserGrantCmd())
	cmd.AddCommand(newUserRevokeCmd())
	cmd.AddCommand(newUserBanCmd())
	cmd.AddCommand(newUserUnbanCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		roles    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new identity",
		Example: `  smartclin user create --email admin@example.com --role admin
  smartclin user create --email dr.lee@example.com --name "Dr Lee" --role doctor --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(email, password, name, roles)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "E-mail address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant; repeatable (default patient)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func runUserCreate(email, password, name string, roles []string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address: %q", email)
	}
	for _, r := range roles {
		if _, err := authz.Lookup(r); err != nil {
			return err
		}
	}

	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}
	if err := service.CheckPassword(password); err != nil {
		return fmt.Errorf("password must be %d to 72 characters", service.MinPasswordLength)
	}

	auth, store, err := openAuthService(newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := auth.CreateIdentity(context.Background(), service.CreateIdentityInput{
		Name:     name,
		Email:    email,
		Password: password,
		Roles:    roles,
	})
	if errors.Is(err, service.ErrEmailTaken) {
		return fmt.Errorf("an identity with e-mail %q already exists", email)
	}
	if err != nil {
		return fmt.Errorf("create identity: %w", err)
	}

	fmt.Printf("Created identity %s\n", id.ID)
	fmt.Printf("  roles: %s\n", authz.JoinRoles(id.Roles))
	return nil
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pw) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(pw), nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput, limit, offset)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum identities to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Identities to skip")

	return cmd
}

func runUserList(jsonOutput bool, limit, offset int) error {
	auth, store, err := openAuthService(newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer store.Close()

	ids, total, err := auth.ListIdentities(context.Background(), limit, offset)
	if err != nil {
		return fmt.Errorf("list identities: %w", err)
	}

	if jsonOutput {
		return printJSON(os.Stdout, model.ListResponse[model.Identity]{
			Resource: ids,
			Meta:     &model.ResponseMeta{Count: len(ids), Total: &total, Limit: limit, Offset: offset},
		})
	}

	if len(ids) == 0 {
		fmt.Println("No identities. Use 'smartclin user create' to create one.")
		return nil
	}

	now := time.Now()
	fmt.Printf("%-36s %-30s %-24s %-7s\n", "ID", "EMAIL", "ROLES", "BANNED")
	fmt.Printf("%-36s %-30s %-24s %-7s\n", "--", "-----", "-----", "------")
	for _, id := range ids {
		banned := "no"
		if id.IsBanned(now) {
			banned = "yes"
		}
		fmt.Printf("%-36s %-30s %-24s %-7s\n", id.ID, id.Email, authz.JoinRoles(id.Roles), banned)
	}
	fmt.Printf("\n%d of %d identities\n", len(ids), total)
	return nil
}

// ---------- user grant / revoke ----------

func newUserGrantCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "grant <id|email> <role>",
		Short:   "Grant a role to an identity",
		Example: `  smartclin user grant dr.lee@example.com doctor`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserRoles(args[0], args[1], true)
		},
	}
}

func newUserRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id|email> <role>",
		Short: "Revoke a role from an identity",
		Long:  "Revoke a role from an identity. An identity left without roles falls back to patient.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserRoles(args[0], args[1], false)
		},
	}
}

func runUserRoles(ref, roleName string, grant bool) error {
	role, err := authz.Lookup(roleName)
	if err != nil {
		return err
	}

	auth, store, err := openAuthService(newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := findIdentity(ctx, store, ref)
	if err != nil {
		return err
	}

	names := applyRole(authz.Names(id.Roles), role.String(), grant)
	updated, err := auth.SetRoles(ctx, cliActor, id.ID, names)
	if err != nil {
		return fmt.Errorf("set roles: %w", err)
	}
	fmt.Printf("Identity %s now holds: %s\n", updated.ID, authz.JoinRoles(updated.Roles))
	return nil
}

// applyRole adds or removes role from names.
func applyRole(names []string, role string, grant bool) []string {
	if grant {
		if slices.Contains(names, role) {
			return names
		}
		return append(names, role)
	}
	return slices.DeleteFunc(slices.Clone(names), func(n string) bool { return n == role })
}

// ---------- user ban / unban ----------

func newUserBanCmd() *cobra.Command {
	var (
		reason  string
		expires time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ban <id|email>",
		Short: "Ban an identity and revoke its sessions",
		Example: `  smartclin user ban patient@example.com --reason "shared account"
  smartclin user ban 0190f3c4-... --expires 72h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserBan(args[0], reason, expires)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the ban")
	cmd.Flags().DurationVar(&expires, "expires", 0, "Ban duration (default: permanent)")

	return cmd
}

func runUserBan(ref, reason string, expires time.Duration) error {
	auth, store, err := openAuthService(newLogger(os.Stderr))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	id, err := findIdentity(ctx, store, ref)
	if err != nil {
		return err
	}
	if err := auth.Ban(ctx, cliActor, id.ID, reason, expires); err != nil {
		return fmt.Errorf("ban identity: %w", err)
	}

	if expires > 0 {
		fmt.Printf("Banned identity %s for %s\n", id.ID, expires)
	} else {
		fmt.Printf("Banned identity %s\n", id.ID)
	}
	return nil
}

func newUserUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <id|email>",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, store, err := openAuthService(newLogger(os.Stderr))
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			id, err := findIdentity(ctx, store, args[0])
			if err != nil {
				return err
			}
			if err := auth.Unban(ctx, id.ID); err != nil {
				return fmt.Errorf("unban identity: %w", err)
			}
			fmt.Printf("Unbanned identity %s\n", id.ID)
			return nil
		},
	}
}

// findIdentity resolves ref as an e-mail when it contains "@" and as an
// identity id otherwise.
func findIdentity(ctx context.Context, store *config.Store, ref string) (*model.Identity, error) {
	var (
		id  *model.Identity
		err error
	)
	if strings.Contains(ref, "@") {
		id, err = store.FindIdentityByEmail(ctx, strings.ToLower(strings.TrimSpace(ref)))
	} else {
		id, err = store.FindIdentityByID(ctx, ref)
	}
	if errors.Is(err, config.ErrNotFound) {
		return nil, fmt.Errorf("no identity %q", ref)
	}
	return id, err
}
