package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/simpleadmin/pkg/server"
)

// ---------- ban ----------

func newBanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ban <identity> <minutes> [reason...]",
		Short: "Ban an identity (0 minutes = permanent)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("minutes: %w", err)
			}
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:     server.CmdAddBan,
					Issuer:   issuer(),
					Identity: args[0],
					Minutes:  minutes,
					Reason:   strings.Join(args[2:], " "),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ban %d created for %s\n", res.Ban.ID, res.Ban.Identity)
				return nil
			})
		},
	}
	return cmd
}

// ---------- unban ----------

func newUnbanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unban <identity|name|ip> [reason...]",
		Short: "Lift every active ban matching the pattern",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:    server.CmdUnban,
					Issuer:  issuer(),
					Pattern: args[0],
					Reason:  strings.Join(args[1:], " "),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d matching bans removed\n",
					len(res.Removal.Removed), len(res.Removal.Matched))
				return nil
			})
		},
	}
	return cmd
}

// ---------- check ----------

func newCheckCmd() *cobra.Command {
	var ip string

	cmd := &cobra.Command{
		Use:   "check <identity>",
		Short: "Show whether an identity is banned or muted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				banned, err := srv.Bans().IsBanned(ctx, args[0], ip)
				if err != nil {
					return err
				}
				total, err := srv.Bans().CountBans(ctx, args[0], ip)
				if err != nil {
					return err
				}
				mutes, err := srv.Mutes().ActiveMutes(ctx, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "banned:     %t (%d on record)\n", banned, total)
				fmt.Fprintf(out, "mutes:      %d active\n", len(mutes))
				for _, m := range mutes {
					fmt.Fprintf(out, "  #%d %s until %s: %s\n", m.ID, m.Type, endsString(m.Length, m.Ends.Format("2006-01-02 15:04")), m.Reason)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "", "also match bans on this address (needs match_ip)")

	return cmd
}

func endsString(length int64, ends string) string {
	if length == 0 {
		return "forever"
	}
	return ends
}
