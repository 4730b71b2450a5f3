package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

func main() {
	exitFn(run(os.Args, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func usageErr(format string, args ...any) error {
	return &exitError{code: 2, msg: fmt.Sprintf(format, args...)}
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if len(args) < 2 {
		fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	root.SetArgs(args[1:])
	err := root.Execute()
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.msg != "" {
			fmt.Fprintln(stderr, exit.msg)
		}
		return exit.code
	}
	fmt.Fprintln(stderr, err.Error())
	if strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

// client holds the persistent flags every remote command shares.
type client struct {
	addr    string
	token   string
	jsonOut bool
	http    *http.Client
	stdout  io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &client{http: &http.Client{Timeout: 30 * time.Second}, stdout: stdout}
	root := &cobra.Command{
		Use:           "steward",
		Short:         "Steward CLI",
		Long:          "Steward CLI talks to a steward-gateway: submit agent actions, grant overrides, run council reviews and inspect the audit chain.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageErr("%v\n%s", err, cmd.UsageString())
	})
	root.PersistentFlags().StringVar(&c.addr, "addr", envOrDefault("STEWARD_ADDR", defaultAddr), "gateway address")
	root.PersistentFlags().StringVar(&c.token, "token", os.Getenv("STEWARD_TOKEN"), "bearer token")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print raw JSON response")

	root.AddCommand(
		newActionCmd(c, "evaluate", "/v1/evaluate", "Evaluate an action without running it"),
		newActionCmd(c, "execute", "/v1/execute", "Evaluate an action and dispatch it when admitted"),
		newGrantCmd(c),
		newReviewCmd(c),
		newFeedbackCmd(c),
		newResolveCmd(c),
		newVoteCmd(c),
		newTallyCmd(c),
		newAuditCmd(c),
		newSignalsCmd(c),
		newPolicyCmd(c),
	)
	return root
}

// do sends body (when non-nil) as JSON and returns the response body.
// Non-2xx statuses are errors carrying the server message.
func (c *client) do(method, path string, body any, headers map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.addr, "/")+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return respBody, resp.StatusCode, nil
}

// exactArgs is cobra.ExactArgs with a usage exit code.
func exactArgs(n int, what string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErr("%s requires %s\n%s", cmd.Name(), what, cmd.UsageString())
		}
		return nil
	}
}

// call runs a request that must succeed and prints the response, raw
// with --json or indented otherwise.
func (c *client) call(method, path string, body any, headers map[string]string) ([]byte, error) {
	respBody, status, err := c.do(method, path, body, headers)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return respBody, &exitError{code: 1, msg: fmt.Sprintf("%s %s failed (%d): %s", method, path, status, serverMessage(respBody))}
	}
	if c.jsonOut || len(respBody) == 0 {
		_, _ = c.stdout.Write(respBody)
		return respBody, nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, respBody, "", "  "); err != nil {
		return respBody, fmt.Errorf("invalid response: %w", err)
	}
	out.WriteByte('\n')
	_, _ = c.stdout.Write(out.Bytes())
	return respBody, nil
}

func serverMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}
