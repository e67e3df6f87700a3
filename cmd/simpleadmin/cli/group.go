package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/simpleadmin/pkg/server"
)

func newGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage admin groups",
	}

	cmd.AddCommand(newGroupAddCmd())
	cmd.AddCommand(newGroupRemoveCmd())
	cmd.AddCommand(newGroupImportCmd())
	cmd.AddCommand(newGroupExportCmd())

	return cmd
}

// ---------- group add ----------

func newGroupAddCmd() *cobra.Command {
	var immunity int

	cmd := &cobra.Command{
		Use:   "add <name> <flags>",
		Short: "Create a group or rewrite its flags",
		Long:  "Flags are sourcemod letters, e.g. \"bcdz\". Unknown letters are ignored when snapshots are built.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:     server.CmdAddGroup,
					Issuer:   issuer(),
					Name:     args[0],
					Flags:    args[1],
					Immunity: immunity,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "group %s saved (flags %q, immunity %d)\n", res.Group.Name, res.Group.Flags, res.Group.Immunity)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&immunity, "immunity", 0, "group immunity level")

	return cmd
}

// ---------- group remove ----------

func newGroupRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a group",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:   server.CmdDelGroup,
					Issuer: issuer(),
					Name:   args[0],
				})
				if err != nil {
					return err
				}
				if !res.Removed {
					return fmt.Errorf("no group named %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "group %s removed\n", args[0])
				return nil
			})
		},
	}
}

// ---------- group import ----------

func newGroupImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update groups from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				n, err := srv.Permissions().LoadGroupsFromYAML(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d groups imported\n", n)
				return nil
			})
		},
	}
}

// ---------- group export ----------

func newGroupExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print every group as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				data, err := srv.Permissions().ExportGroupsYAML(ctx)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
}
