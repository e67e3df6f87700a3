package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/NicolasHaas/simpleadmin/pkg/ban"
	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

// CommandKind names an administrative command.
type CommandKind string

const (
	CmdBan      CommandKind = "ban"     // ban a connected session
	CmdAddBan   CommandKind = "addban"  // ban an offline identity
	CmdUnban    CommandKind = "unban"   // pattern removal
	CmdMute     CommandKind = "mute"    // mute a connected session
	CmdAddMute  CommandKind = "addmute" // mute an offline identity
	CmdUnmute   CommandKind = "unmute"  // pattern removal
	CmdAddAdmin CommandKind = "addadmin"
	CmdDelAdmin CommandKind = "deladmin"
	CmdAddGroup CommandKind = "addgroup"
	CmdDelGroup CommandKind = "delgroup"
)

// ErrUnknownCommand is returned for a CommandKind the engine does not handle.
var ErrUnknownCommand = errors.New("server: unknown command")

// Command is one administrative request. Which fields are read depends on
// Kind.
type Command struct {
	Kind     CommandKind
	Issuer   model.Issuer
	Target   model.LiveSession // ban, mute
	Identity string            // addban, addmute, addadmin, deladmin
	Pattern  string            // unban, unmute
	Name     string            // admin display name or group name
	Group    string            // addadmin
	Flags    string            // addgroup
	Reason   string
	Minutes  int
	Immunity int            // addadmin, addgroup
	MuteType model.MuteType // mute, addmute, unmute
}

// Result reports what a command changed.
type Result struct {
	Kind    CommandKind
	Ban     *model.Ban
	Mute    *model.Mute
	Removal model.RemovalResult
	Admin   *model.Admin
	Group   *model.Group
	Removed bool // deladmin, delgroup
	Kicked  bool // ban of a connected session
}

// OnAdminCommand executes cmd. Failures are returned to the caller; a
// removal pattern that is too short does nothing and returns an empty
// result.
func (s *Server) OnAdminCommand(ctx context.Context, cmd Command) (Result, error) {
	res := Result{Kind: cmd.Kind}
	var err error

	switch cmd.Kind {
	case CmdBan:
		res.Ban, err = s.bans.CreateBan(ctx, cmd.Target, cmd.Issuer, cmd.Reason, cmd.Minutes)
		if err == nil {
			s.metrics.BansCreated.Add(1)
			if cmd.Target.HasHandle() {
				s.host.ScheduleKick(cmd.Target.Handle, ban.KickReason)
				s.metrics.KicksScheduled.Add(1)
				res.Kicked = true
			}
		}
	case CmdAddBan:
		res.Ban, err = s.bans.AddBanByIdentity(ctx, cmd.Identity, cmd.Issuer, cmd.Reason, cmd.Minutes)
		if err == nil {
			s.metrics.BansCreated.Add(1)
		}
	case CmdUnban:
		res.Removal, err = s.bans.RemoveBans(ctx, cmd.Pattern, cmd.Issuer, cmd.Reason)
		s.metrics.BansRemoved.Add(int64(len(res.Removal.Removed)))
	case CmdMute:
		res.Mute, err = s.mutes.CreateMute(ctx, cmd.Target, cmd.Issuer, cmd.Reason, cmd.Minutes, cmd.MuteType)
		if err == nil {
			s.metrics.MutesCreated.Add(1)
		}
	case CmdAddMute:
		res.Mute, err = s.mutes.AddMuteByIdentity(ctx, cmd.Identity, cmd.Issuer, cmd.Reason, cmd.Minutes, cmd.MuteType)
		if err == nil {
			s.metrics.MutesCreated.Add(1)
		}
	case CmdUnmute:
		res.Removal, err = s.mutes.RemoveMutes(ctx, cmd.Pattern, cmd.Issuer, cmd.Reason, cmd.MuteType)
		s.metrics.MutesRemoved.Add(int64(len(res.Removal.Removed)))
	case CmdAddAdmin:
		res.Admin, err = s.perms.AddAdmin(ctx, cmd.Identity, cmd.Name, cmd.Group, cmd.Immunity)
		if err == nil {
			s.metrics.AdminsAdded.Add(1)
		}
	case CmdDelAdmin:
		res.Removed, err = s.perms.RemoveAdmin(ctx, cmd.Identity)
	case CmdAddGroup:
		res.Group, err = s.perms.AddGroup(ctx, cmd.Name, cmd.Flags, cmd.Immunity)
	case CmdDelGroup:
		res.Removed, err = s.perms.RemoveGroup(ctx, cmd.Name)
	default:
		return res, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
	}

	if errors.Is(err, model.ErrInvalidPattern) {
		s.log.Debug("removal pattern ignored", "command", cmd.Kind, "pattern", cmd.Pattern)
		return res, nil
	}
	if err != nil {
		s.countStoreError(err)
		s.metrics.CommandsFailed.Add(1)
		return res, fmt.Errorf("server: %s: %w", cmd.Kind, err)
	}
	s.log.Info("admin command", "command", cmd.Kind, "issuer", cmd.Issuer.Name)
	return res, nil
}
