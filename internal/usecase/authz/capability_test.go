package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"agenthub/internal/domain"
)

func TestResolveActionType(t *testing.T) {
	tests := []struct {
		name string
		msg  domain.Message
		want domain.ActionType
	}{
		{"message type", domain.Message{Type: domain.MessageTask}, domain.ActionTask},
		{"metadata override", domain.Message{
			Type:     domain.MessageInfo,
			Metadata: map[string]any{domain.MetaActionType: "command"},
		}, domain.ActionCommand},
		{"empty override ignored", domain.Message{
			Type:     domain.MessageResult,
			Metadata: map[string]any{domain.MetaActionType: ""},
		}, domain.ActionResult},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveActionType(tt.msg))
		})
	}
}

func TestCapabilityForAction(t *testing.T) {
	tests := []struct {
		action domain.ActionType
		intent string
		want   string
	}{
		{domain.ActionCommand, "", domain.CapCommand},
		{domain.ActionTask, "build", domain.CapDelegate},
		{domain.ActionResult, "", domain.CapRespond},
		{domain.ActionInfo, "", domain.CapRespond},
		{domain.ActionBroadcast, "", domain.CapCoordinate},
		{domain.ActionEnd, "", domain.CapCoordinate},
		{domain.ActionConfirmation, "Approve", "approve"},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, CapabilityForAction(tt.action, tt.intent))
		})
	}
}

func TestIsHierarchyCompliant(t *testing.T) {
	assert.True(t, IsHierarchyCompliant(domain.PrivilegeCommander, domain.PrivilegeTool, domain.ActionTask))
	assert.False(t, IsHierarchyCompliant(domain.PrivilegeTool, domain.PrivilegeCommander, domain.ActionTask))
	assert.False(t, IsHierarchyCompliant(domain.PrivilegeOrchestrator, domain.PrivilegeOrchestrator, domain.ActionCommand))
	assert.True(t, IsHierarchyCompliant(domain.PrivilegeTool, domain.PrivilegeCommander, domain.ActionResult))
	assert.True(t, IsHierarchyCompliant(domain.PrivilegeTool, domain.PrivilegeSystem, domain.ActionInfo))
}
