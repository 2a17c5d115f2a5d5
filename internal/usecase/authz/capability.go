// Package authz gates outbound agent messages by capability, trust tier and
// declared bindings before handing them to governance and the router.
package authz

import (
	"strings"

	"agenthub/internal/domain"
)

// ResolveActionType returns metadata.actionType when present, else the
// message type.
func ResolveActionType(msg domain.Message) domain.ActionType {
	if a := msg.MetaString(domain.MetaActionType); a != "" {
		return domain.ActionType(strings.ToUpper(a))
	}
	return domain.ActionType(msg.Type)
}

// CapabilityForAction maps an action to the capability it requires. Unknown
// actions fall back to the lower-cased intent.
func CapabilityForAction(action domain.ActionType, intent string) string {
	switch action {
	case domain.ActionCommand:
		return domain.CapCommand
	case domain.ActionTask:
		return domain.CapDelegate
	case domain.ActionResult, domain.ActionInfo:
		return domain.CapRespond
	case domain.ActionBroadcast, domain.ActionEnd:
		return domain.CapCoordinate
	}
	return strings.ToLower(intent)
}

// IsHierarchyCompliant reports whether actor may send action to target.
// TASK and COMMAND need the actor to strictly outrank the target; every other
// action is permitted regardless of rank.
func IsHierarchyCompliant(actor, target domain.PrivilegeLevel, action domain.ActionType) bool {
	switch action {
	case domain.ActionTask, domain.ActionCommand:
		return actor.Outranks(target)
	}
	return true
}

func isDelegation(action domain.ActionType) bool {
	return action == domain.ActionTask || action == domain.ActionCommand
}
