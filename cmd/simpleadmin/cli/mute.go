package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
	"github.com/NicolasHaas/simpleadmin/pkg/mute"
	"github.com/NicolasHaas/simpleadmin/pkg/server"
)

func parseMuteType(s string) (model.MuteType, error) {
	switch strings.ToLower(s) {
	case "voice", "1":
		return model.MuteVoice, nil
	case "text", "chat", "2":
		return model.MuteText, nil
	default:
		return 0, fmt.Errorf("unknown mute type %q (valid: voice, text)", s)
	}
}

// ---------- mute ----------

func newMuteCmd() *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "mute <identity> <minutes> [reason...]",
		Short: "Mute an identity (0 minutes = permanent)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("minutes: %w", err)
			}
			mt, err := parseMuteType(typ)
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:     server.CmdAddMute,
					Issuer:   issuer(),
					Identity: args[0],
					Minutes:  minutes,
					Reason:   strings.Join(args[2:], " "),
					MuteType: mt,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s mute %d created for %s\n", res.Mute.Type, res.Mute.ID, res.Mute.Identity)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", "voice", "mute type: voice or text")

	return cmd
}

// ---------- unmute ----------

func newUnmuteCmd() *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "unmute <identity|name> [reason...]",
		Short: "Lift every active mute of one type matching the pattern",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mt, err := parseMuteType(typ)
			if err != nil {
				return err
			}
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.OnAdminCommand(ctx, server.Command{
					Kind:     server.CmdUnmute,
					Issuer:   issuer(),
					Pattern:  args[0],
					Reason:   strings.Join(args[1:], " "),
					MuteType: mt,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d matching mutes removed\n",
					len(res.Removal.Removed), len(res.Removal.Matched))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", "voice", "mute type: voice or text")

	return cmd
}

// ---------- import-mutes ----------

type muteFile struct {
	Mutes []mute.ImportRecord `yaml:"mutes"`
}

func newImportMutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-mutes <file.yaml>",
		Short: "Import a list of mutes in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read mutes file: %w", err)
			}
			var f muteFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse mutes file: %w", err)
			}
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				res, err := srv.Mutes().Import(ctx, issuer(), f.Mutes)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "imported %d mutes, skipped %d\n", len(res.Imported), len(res.Skipped))
				for i, err := range res.Skipped {
					fmt.Fprintf(out, "  entry %d: %v\n", i, err)
				}
				return nil
			})
		},
	}
	return cmd
}

// ---------- expire ----------

func newExpireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Mark every timed mute past its end as expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, srv *server.Server) error {
				n, err := srv.Mutes().ExpireOldMutes(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d mutes expired\n", n)
				return nil
			})
		},
	}
}
