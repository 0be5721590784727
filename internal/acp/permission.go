package acp

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/acpxdev/acpx/internal/errs"
)

// PermissionMode selects the overall permission policy for a client
// (spec.md §4.3.1).
type PermissionMode string

const (
	ModeApproveAll   PermissionMode = "approve-all"
	ModeApproveReads PermissionMode = "approve-reads"
	ModeDenyAll      PermissionMode = "deny-all"
)

// NonInteractivePermissionPolicy governs approve-reads' "other" tool kind
// when no TTY is attached.
type NonInteractivePermissionPolicy string

const (
	PolicyDeny NonInteractivePermissionPolicy = "deny"
	PolicyFail NonInteractivePermissionPolicy = "fail"
)

// toolKind is the coarse category a permission decision is made against.
type toolKind string

const (
	kindRead    toolKind = "read"
	kindEdit    toolKind = "edit"
	kindDelete  toolKind = "delete"
	kindMove    toolKind = "move"
	kindExecute toolKind = "execute"
	kindFetch   toolKind = "fetch"
	kindThink   toolKind = "think"
	kindSearch  toolKind = "search"
	kindOther   toolKind = "other"
)

var titleKeywords = []struct {
	kind     toolKind
	keywords []string
}{
	{kindRead, []string{"read", "cat"}},
	{kindEdit, []string{"write", "edit", "patch"}},
	{kindDelete, []string{"delete", "remove"}},
	{kindMove, []string{"move", "rename"}},
	{kindExecute, []string{"run", "execute", "bash"}},
	{kindFetch, []string{"fetch", "http", "url"}},
	{kindThink, []string{"think"}},
	{kindSearch, []string{"search", "find", "grep"}},
}

// inferToolKind classifies a permission request by its explicit kind if
// ACP supplied one, otherwise by keyword-matching the tool call title
// (spec.md §4.3.1).
func inferToolKind(req acpsdk.RequestPermissionRequest) toolKind {
	if req.ToolCall.Kind != nil {
		switch strings.ToLower(string(*req.ToolCall.Kind)) {
		case "read":
			return kindRead
		case "edit":
			return kindEdit
		case "delete":
			return kindDelete
		case "move":
			return kindMove
		case "execute":
			return kindExecute
		case "fetch":
			return kindFetch
		case "think":
			return kindThink
		case "search":
			return kindSearch
		}
	}

	title := strings.ToLower(req.ToolCall.Title)
	for _, entry := range titleKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(title, kw) {
				return entry.kind
			}
		}
	}
	return kindOther
}

func isReadLike(k toolKind) bool {
	return k == kindRead || k == kindSearch
}

// findOption returns the first option matching any of the given kinds, or
// nil.
func findOption(opts []acpsdk.PermissionOption, kinds ...acpsdk.PermissionOptionKind) *acpsdk.PermissionOption {
	for _, want := range kinds {
		for i := range opts {
			if opts[i].Kind == want {
				return &opts[i]
			}
		}
	}
	return nil
}

func selected(opt acpsdk.PermissionOption) acpsdk.RequestPermissionResponse {
	return acpsdk.RequestPermissionResponse{
		Outcome: acpsdk.RequestPermissionOutcome{
			Selected: &acpsdk.RequestPermissionOutcomeSelected{
				OptionId: opt.OptionId,
				Outcome:  "selected",
			},
		},
	}
}

func cancelled() acpsdk.RequestPermissionResponse {
	return acpsdk.RequestPermissionResponse{
		Outcome: acpsdk.RequestPermissionOutcome{Cancelled: &acpsdk.RequestPermissionOutcomeCancelled{Outcome: "cancelled"}},
	}
}

// PermissionStats accumulates decision counts for a client's lifetime
// (spec.md §4.3 point 8).
type PermissionStats struct {
	Requested int
	Approved  int
	Denied    int
	Cancelled int
}

// resolvePermission implements the decision table in spec.md §4.3.1 as a
// small ordered set of guard clauses rather than nested conditionals, so
// each row of the table maps to one branch.
func (c *Client) resolvePermission(req acpsdk.RequestPermissionRequest) (acpsdk.RequestPermissionResponse, error) {
	c.statsMu.Lock()
	c.stats.Requested++
	c.statsMu.Unlock()

	record := func(resp acpsdk.RequestPermissionResponse) acpsdk.RequestPermissionResponse {
		c.statsMu.Lock()
		switch {
		case resp.Outcome.Selected != nil:
			c.stats.Approved++
		case resp.Outcome.Cancelled != nil:
			c.stats.Cancelled++
		default:
			c.stats.Denied++
		}
		c.statsMu.Unlock()
		return resp
	}

	opts := req.Options
	kind := inferToolKind(req)

	switch c.Mode {
	case ModeApproveAll:
		if opt := findOption(opts, acpsdk.PermissionOptionKindAllowOnce, acpsdk.PermissionOptionKindAllowAlways); opt != nil {
			return record(selected(*opt)), nil
		}
		if len(opts) > 0 {
			return record(selected(opts[0])), nil
		}
		return record(cancelled()), nil

	case ModeDenyAll:
		if opt := findOption(opts, acpsdk.PermissionOptionKindRejectOnce, acpsdk.PermissionOptionKindRejectAlways); opt != nil {
			c.statsMu.Lock()
			c.stats.Denied++
			c.statsMu.Unlock()
			return selected(*opt), nil
		}
		return record(cancelled()), nil

	case ModeApproveReads:
		if isReadLike(kind) {
			if opt := findOption(opts, acpsdk.PermissionOptionKindAllowOnce, acpsdk.PermissionOptionKindAllowAlways); opt != nil {
				return record(selected(*opt)), nil
			}
			if len(opts) > 0 {
				return record(selected(opts[0])), nil
			}
			return record(cancelled()), nil
		}

		if c.IsInteractive {
			approve := promptYesNo(fmt.Sprintf("allow %s (%s)?", req.ToolCall.Title, kind))
			if approve {
				if opt := findOption(opts, acpsdk.PermissionOptionKindAllowOnce, acpsdk.PermissionOptionKindAllowAlways); opt != nil {
					return record(selected(*opt)), nil
				}
			}
			if opt := findOption(opts, acpsdk.PermissionOptionKindRejectOnce, acpsdk.PermissionOptionKindRejectAlways); opt != nil {
				c.statsMu.Lock()
				c.stats.Denied++
				c.statsMu.Unlock()
				return selected(*opt), nil
			}
			return record(cancelled()), nil
		}

		switch c.NonInteractivePolicy {
		case PolicyFail:
			return acpsdk.RequestPermissionResponse{}, errs.New(
				errs.CodePermissionPromptUnavailable, errs.OriginAgent,
				"permission prompt unavailable: no TTY and policy=fail",
			)
		default: // PolicyDeny
			if opt := findOption(opts, acpsdk.PermissionOptionKindRejectOnce, acpsdk.PermissionOptionKindRejectAlways); opt != nil {
				c.statsMu.Lock()
				c.stats.Denied++
				c.statsMu.Unlock()
				return selected(*opt), nil
			}
			return record(cancelled()), nil
		}
	}

	return record(cancelled()), nil
}

// promptYesNo asks a y/N question on the controlling terminal.
func promptYesNo(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
