package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/simpleadmin/pkg/server"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admins",
	}

	cmd.AddCommand(newAdminAddCmd())
	cmd.AddCommand(newAdminRemoveCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin add ----------

func newAdminAddCmd() *cobra.Command {
	var immunity int

	cmd := &cobra.Command{
		Use:   "add <identity> <name> <group>",
		Short: "Create an admin or update an existing one",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:     server.CmdAddAdmin,
					Issuer:   issuer(),
					Identity: args[0],
					Name:     args[1],
					Group:    args[2],
					Immunity: immunity,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s (%s) saved in group %s\n", res.Admin.Name, res.Admin.Identity, res.Admin.Group)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&immunity, "immunity", 0, "admin immunity level")

	return cmd
}

// ---------- admin remove ----------

func newAdminRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <identity>",
		Aliases: []string{"rm"},
		Short:   "Remove an admin",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:     server.CmdDelAdmin,
					Issuer:   issuer(),
					Identity: args[0],
				})
				if err != nil {
					return err
				}
				if !res.Removed {
					return fmt.Errorf("no admin with identity %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s removed\n", args[0])
				return nil
			})
		},
	}
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List admins with their effective group capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				assignments, err := srv.Permissions().LoadAdminAssignments(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(assignments)
				}
				if len(assignments) == 0 {
					fmt.Fprintln(os.Stderr, "No admins found.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "IDENTITY\tNAME\tGROUP\tIMMUNITY\tFLAGS")
				for _, a := range assignments {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n", a.Identity, a.Name, a.Group, a.Immunity, a.Flags)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
