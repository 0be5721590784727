package acp

import (
	"testing"

	acpsdk "github.com/coder/acp-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reqWithTitle(title string, opts ...acpsdk.PermissionOption) acpsdk.RequestPermissionRequest {
	return acpsdk.RequestPermissionRequest{
		ToolCall: acpsdk.ToolCallUpdate{Title: title},
		Options:  opts,
	}
}

func allowOnce(id string) acpsdk.PermissionOption {
	return acpsdk.PermissionOption{OptionId: acpsdk.PermissionOptionId(id), Kind: acpsdk.PermissionOptionKindAllowOnce}
}

func rejectOnce(id string) acpsdk.PermissionOption {
	return acpsdk.PermissionOption{OptionId: acpsdk.PermissionOptionId(id), Kind: acpsdk.PermissionOptionKindRejectOnce}
}

func TestInferToolKindFromTitleKeywords(t *testing.T) {
	assert.Equal(t, kindRead, inferToolKind(reqWithTitle("Read file.txt")))
	assert.Equal(t, kindEdit, inferToolKind(reqWithTitle("Edit main.go")))
	assert.Equal(t, kindDelete, inferToolKind(reqWithTitle("Delete tmp dir")))
	assert.Equal(t, kindExecute, inferToolKind(reqWithTitle("Run bash script")))
	assert.Equal(t, kindSearch, inferToolKind(reqWithTitle("Grep for TODO")))
	assert.Equal(t, kindOther, inferToolKind(reqWithTitle("Summon a demon")))
}

func TestResolvePermissionApproveAllSelectsAllowOption(t *testing.T) {
	c := &Client{Mode: ModeApproveAll}
	resp, err := c.resolvePermission(reqWithTitle("Edit", rejectOnce("r"), allowOnce("a")))
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Selected)
	assert.Equal(t, acpsdk.PermissionOptionId("a"), resp.Outcome.Selected.OptionId)
	assert.Equal(t, 1, c.Stats().Approved)
}

func TestResolvePermissionDenyAllSelectsRejectOption(t *testing.T) {
	c := &Client{Mode: ModeDenyAll}
	resp, err := c.resolvePermission(reqWithTitle("Edit", allowOnce("a"), rejectOnce("r")))
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Selected)
	assert.Equal(t, acpsdk.PermissionOptionId("r"), resp.Outcome.Selected.OptionId)
	assert.Equal(t, 1, c.Stats().Denied)
}

func TestResolvePermissionApproveReadsAutoApprovesReadKind(t *testing.T) {
	c := &Client{Mode: ModeApproveReads}
	resp, err := c.resolvePermission(reqWithTitle("Read config.yaml", rejectOnce("r"), allowOnce("a")))
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Selected)
	assert.Equal(t, acpsdk.PermissionOptionId("a"), resp.Outcome.Selected.OptionId)
}

func TestResolvePermissionApproveReadsNonInteractiveDenyPolicy(t *testing.T) {
	c := &Client{Mode: ModeApproveReads, IsInteractive: false, NonInteractivePolicy: PolicyDeny}
	resp, err := c.resolvePermission(reqWithTitle("Execute build.sh", allowOnce("a"), rejectOnce("r")))
	require.NoError(t, err)
	require.NotNil(t, resp.Outcome.Selected)
	assert.Equal(t, acpsdk.PermissionOptionId("r"), resp.Outcome.Selected.OptionId)
}

func TestResolvePermissionApproveReadsNonInteractiveFailPolicy(t *testing.T) {
	c := &Client{Mode: ModeApproveReads, IsInteractive: false, NonInteractivePolicy: PolicyFail}
	_, err := c.resolvePermission(reqWithTitle("Execute build.sh", allowOnce("a")))
	require.Error(t, err)
}
