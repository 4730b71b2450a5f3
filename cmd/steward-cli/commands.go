package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/davidahmann/steward/internal/policy"
	"github.com/davidahmann/steward/pkg/types"
)

// exitNotAdmitted is returned when a decision is anything but admit, so
// scripts can tell a refusal from a transport or usage error.
const exitNotAdmitted = 3

type actionFlags struct {
	requestID string
	action    string
	actionID  string
	targetID  string
	flowType  string
	userTier  string
	metadata  map[string]string
}

func (f actionFlags) body() map[string]any {
	body := map[string]any{"action": f.action}
	for k, v := range map[string]string{
		"request_id": f.requestID,
		"action_id":  f.actionID,
		"target_id":  f.targetID,
		"flow_type":  f.flowType,
		"user_tier":  f.userTier,
	} {
		if v != "" {
			body[k] = v
		}
	}
	if len(f.metadata) > 0 {
		body["metadata"] = f.metadata
	}
	return body
}

func newActionCmd(c *client, name, path, short string) *cobra.Command {
	var f actionFlags
	cmd := &cobra.Command{
		Use:   name + " <action>",
		Short: short,
		Args:  exactArgs(1, "<action>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.action = args[0]
			respBody, status, err := c.do(http.MethodPost, path, f.body(), nil)
			if err != nil {
				return err
			}
			if c.jsonOut {
				_, _ = c.stdout.Write(respBody)
			}
			d, err := decodeDecision(name, respBody)
			if err != nil {
				return &exitError{code: 1, msg: fmt.Sprintf("%s failed (%d): %s", name, status, serverMessage(respBody))}
			}
			if !c.jsonOut {
				fmt.Fprintf(c.stdout, "verdict=%s reason_code=%s reason=%q request_id=%s audit_event_id=%s fee_bps=%d\n",
					d.Verdict, d.Code, d.Reason, d.RequestID, d.AuditEventID, d.FeeBps)
			}
			switch {
			case status >= 300:
				return &exitError{code: 1, msg: fmt.Sprintf("%s failed (%d): %s", name, status, serverMessage(respBody))}
			case !d.Admitted():
				return &exitError{code: exitNotAdmitted}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.requestID, "request-id", "", "request id (generated when empty)")
	cmd.Flags().StringVar(&f.actionID, "action-id", "", "action instance id used for override matching")
	cmd.Flags().StringVar(&f.targetID, "target", "", "target user or entity id")
	cmd.Flags().StringVar(&f.flowType, "flow", "", "declared flow type")
	cmd.Flags().StringVar(&f.userTier, "tier", "", "user tier")
	cmd.Flags().StringToStringVar(&f.metadata, "meta", nil, "metadata key=value pairs")
	return cmd
}

// decodeDecision accepts both an evaluate body and an execute body.
func decodeDecision(name string, body []byte) (types.Decision, error) {
	if name == "execute" {
		var exec struct {
			Decision types.Decision `json:"decision"`
		}
		if err := json.Unmarshal(body, &exec); err != nil {
			return types.Decision{}, err
		}
		if exec.Decision.Verdict == "" {
			return types.Decision{}, fmt.Errorf("no decision in response")
		}
		return exec.Decision, nil
	}
	var d types.Decision
	if err := json.Unmarshal(body, &d); err != nil {
		return types.Decision{}, err
	}
	if d.Verdict == "" {
		return types.Decision{}, fmt.Errorf("no decision in response")
	}
	return d, nil
}

func newGrantCmd(c *client) *cobra.Command {
	var action, category, reason, agent, approverToken string
	cmd := &cobra.Command{
		Use:   "grant <action_id>",
		Short: "Grant a dual-control override (requester token plus approver token)",
		Args:  exactArgs(1, "<action_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approverToken == "" {
				return usageErr("grant requires --approver-token")
			}
			_, err := c.call(http.MethodPost, "/v1/overrides", map[string]string{
				"action_id": args[0],
				"action":    action,
				"category":  category,
				"reason":    reason,
				"agent":     agent,
			}, map[string]string{"X-Approver-Token": "Bearer " + approverToken})
			return err
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action name, when <action_id> is an instance id")
	cmd.Flags().StringVar(&category, "category", "", "override category, e.g. financial_flows")
	cmd.Flags().StringVar(&reason, "reason", "", "justification")
	cmd.Flags().StringVar(&agent, "agent", "", "agent that will perform the action")
	cmd.Flags().StringVar(&approverToken, "approver-token", envOrDefault("STEWARD_APPROVER_TOKEN", ""), "second approver bearer token")
	return cmd
}

func newReviewCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Summarize the override ledger",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.call(http.MethodGet, "/v1/overrides/review", nil, nil)
			return err
		},
	}
}

func newFeedbackCmd(c *client) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "feedback <action_id>",
		Short: "Flag an action for council attention",
		Args:  exactArgs(1, "<action_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.call(http.MethodPost, "/v1/feedback", map[string]string{"action_id": args[0], "comment": comment}, nil)
			return err
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "what went wrong")
	return cmd
}

func newResolveCmd(c *client) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "resolve <flag_id>",
		Short: "Resolve a flagged action (council members only)",
		Args:  exactArgs(1, "<flag_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.call(http.MethodPost, "/v1/feedback/"+url.PathEscape(args[0])+"/resolve", map[string]string{"note": note}, nil)
			return err
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "resolution note")
	return cmd
}

func newVoteCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <version> <approve|reject|pause>",
		Short: "Cast a council vote on a policy version",
		Args:  exactArgs(2, "<version> <vote>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.call(http.MethodPost, "/v1/votes", map[string]string{"version": args[0], "vote": args[1]}, nil)
			return err
		},
	}
}

func newTallyCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "tally <version>",
		Short: "Count the votes cast on a policy version",
		Args:  exactArgs(1, "<version>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.call(http.MethodGet, "/v1/votes/"+url.PathEscape(args[0]), nil, nil)
			return err
		},
	}
}

func newAuditCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Inspect the audit chain"}

	var requestID, subsystem string
	var afterSeq int64
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit events",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if requestID != "" {
				q.Set("request_id", requestID)
			}
			if subsystem != "" {
				q.Set("subsystem", subsystem)
			}
			if afterSeq > 0 {
				q.Set("after_seq", strconv.FormatInt(afterSeq, 10))
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/audit"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			_, err := c.call(http.MethodGet, path, nil, nil)
			return err
		},
	}
	list.Flags().StringVar(&requestID, "request-id", "", "only events for this request")
	list.Flags().StringVar(&subsystem, "subsystem", "", "only events from this subsystem")
	list.Flags().Int64Var(&afterSeq, "after-seq", 0, "only events after this sequence number")
	list.Flags().IntVar(&limit, "limit", 0, "page size")

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain and signatures",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			respBody, status, err := c.do(http.MethodGet, "/v1/audit/verify", nil, nil)
			if err != nil {
				return err
			}
			if c.jsonOut {
				_, _ = c.stdout.Write(respBody)
			}
			var payload struct {
				Valid  bool   `json:"valid"`
				Error  string `json:"error"`
				Report struct {
					Events  int   `json:"events"`
					LastSeq int64 `json:"last_seq"`
				} `json:"report"`
			}
			if status != http.StatusOK {
				return &exitError{code: 1, msg: fmt.Sprintf("verify failed (%d): %s", status, serverMessage(respBody))}
			}
			if err := json.Unmarshal(respBody, &payload); err != nil {
				return fmt.Errorf("invalid response: %w", err)
			}
			if !c.jsonOut {
				if payload.Valid {
					fmt.Fprintf(c.stdout, "valid=true events=%d last_seq=%d\n", payload.Report.Events, payload.Report.LastSeq)
				} else {
					fmt.Fprintf(c.stdout, "valid=false events=%d error=%s\n", payload.Report.Events, payload.Error)
				}
			}
			if !payload.Valid {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.AddCommand(list, verify)
	return cmd
}

func newSignalsCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{Use: "signals", Short: "Feed development risk signals"}
	setCmd := &cobra.Command{
		Use:   "set <target_id> <tag>...",
		Short: "Replace the signals observed for a target",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return usageErr("signals set requires <target_id>\n%s", cmd.UsageString())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tags := args[1:]
			if tags == nil {
				tags = []string{}
			}
			_, err := c.call(http.MethodPut, "/v1/signals/"+url.PathEscape(args[0]), map[string][]string{"signals": tags}, nil)
			return err
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear <target_id>",
		Short: "Forget the signals for a target",
		Args:  exactArgs(1, "<target_id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.call(http.MethodDelete, "/v1/signals/"+url.PathEscape(args[0]), nil, nil)
			return err
		},
	}
	cmd.AddCommand(setCmd, clearCmd)
	return cmd
}

func newPolicyCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Lint or reload the governance policy"}
	lint := &cobra.Command{
		Use:   "lint <policy_path>",
		Short: "Validate a policy file locally",
		Args:  exactArgs(1, "<policy_path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := policy.LoadPolicy(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "ok policy_id=%s policy_version=%s policy_hash=%s\n",
				loaded.Policy.PolicyID, loaded.Policy.PolicyVersion, loaded.Hash)
			return nil
		},
	}
	reload := &cobra.Command{
		Use:   "reload",
		Short: "Ask the gateway to reload its policy file",
		Args:  exactArgs(0, "no arguments"),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := c.call(http.MethodPost, "/v1/policy/reload", nil, nil)
			return err
		},
	}
	cmd.AddCommand(lint, reload)
	return cmd
}
