package proc

import (
	"fmt"
	"strings"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/voxbox/sys"
)

// Capability is a bit index into a Mask. The order is part of the
// configuration contract and must not change.
type Capability uint

const (
	CapSummon Capability = iota
	CapDismiss
	CapPlayFile
	CapPlayStream
	CapUpload
	CapDeleteAny
	CapList
	CapPlaybackControl
	CapRejoin
	CapStop
	CapRenameAny
	CapVolumeAboveMax
	CapHideOwnRecords
	CapPlayPresenceRecordings
	CapPlayAnyRecording
	CapPlayRandomQuote
	CapRepeat
	CapDeleteOwn
	CapRenameOwn

	capabilityCount
)

var capabilityNames = [...]string{
	"summon", "dismiss", "play-file", "play-stream", "upload", "delete-any",
	"list", "playback-control", "rejoin", "stop", "rename-any", "volume-above-max",
	"hide-own-records", "play-presence-recordings", "play-any-recording",
	"play-random-quote", "repeat", "delete-own", "rename-own",
}

func (c Capability) String() string {
	if c < capabilityCount {
		return capabilityNames[c]
	}
	return fmt.Sprintf("capability(%d)", uint(c))
}

type Mask uint32

// MaskAll has every named capability set.
const MaskAll Mask = 1<<capabilityCount - 1

func (m Mask) Has(c Capability) bool {
	return m&(1<<c) != 0
}

type Policy int

const (
	PolicyOpen Policy = iota
	PolicyRoleRestricted
)

// Actor is whoever issued a command.
type Actor struct {
	ID        snowflake.ID
	RoleIDs   []snowflake.ID
	RoleNames []string
}

// Evaluator computes capability masks from the configured tables. It holds
// no mutable state and is safe for concurrent use.
type Evaluator struct {
	admins    map[snowflake.ID]struct{}
	blacklist map[snowflake.ID]struct{}
	policy    Policy
	roles     []string
	grants    Mask
}

func NewEvaluator(cfg sys.PermissionConfig) (*Evaluator, error) {
	admins, err := sys.ParseIDs(cfg.AdminIDs)
	if err != nil {
		return nil, fmt.Errorf("admin ids: %w", err)
	}
	blacklist, err := sys.ParseIDs(cfg.BlacklistIDs)
	if err != nil {
		return nil, fmt.Errorf("blacklist ids: %w", err)
	}

	e := &Evaluator{
		admins:    toSet(admins),
		blacklist: toSet(blacklist),
		policy:    Policy(cfg.Policy),
		grants:    GrantMask(cfg.Flags()),
	}
	for _, r := range cfg.Roles {
		e.roles = append(e.roles, strings.ToLower(r))
	}
	return e, nil
}

// GrantMask ORs each flag shifted to its bit index.
func GrantMask(flags []bool) Mask {
	var m Mask
	for i, on := range flags {
		if on && Capability(i) < capabilityCount {
			m |= 1 << Capability(i)
		}
	}
	return m
}

func toSet(ids []snowflake.ID) map[snowflake.ID]struct{} {
	set := make(map[snowflake.ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Mask returns the capabilities granted to a.
func (e *Evaluator) Mask(a Actor) Mask {
	if _, ok := e.admins[a.ID]; ok {
		return MaskAll
	}
	if _, ok := e.blacklist[a.ID]; ok {
		return 0
	}
	if e.policy == PolicyOpen || e.holdsRole(a) {
		return e.grants
	}
	return 0
}

func (e *Evaluator) holdsRole(a Actor) bool {
	for _, want := range e.roles {
		for _, id := range a.RoleIDs {
			if id.String() == want {
				return true
			}
		}
		for _, name := range a.RoleNames {
			if strings.ToLower(name) == want {
				return true
			}
		}
	}
	return false
}

func (e *Evaluator) Allowed(a Actor, c Capability) bool {
	return e.Mask(a).Has(c)
}

// Check returns ErrPermissionDenied wrapped with the capability name.
func (e *Evaluator) Check(a Actor, c Capability) error {
	if e.Allowed(a, c) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, c)
}
