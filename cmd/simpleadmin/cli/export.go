package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NicolasHaas/simpleadmin/pkg/permission"
	"github.com/NicolasHaas/simpleadmin/pkg/server"
)

func newExportCmd() *cobra.Command {
	var stdout bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Regenerate groups.json and admins.json",
		Long:  "Rebuild both capability snapshots from the database and write them to the data directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				groups, admins, err := srv.Permissions().Refresh(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if stdout {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]any{"groups": groups, "admins": admins})
				}
				dir := viper.GetString("data_dir")
				fmt.Fprintf(out, "%d groups -> %s\n", len(groups), filepath.Join(dir, permission.GroupsFileName))
				fmt.Fprintf(out, "%d admins -> %s\n", len(admins), filepath.Join(dir, permission.AdminsFileName))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&stdout, "stdout", false, "Also print both snapshots as JSON")

	return cmd
}
