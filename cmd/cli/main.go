// Command cli is the pipewatch client. It validates Pipefiles locally and
// talks to a running pipewatch server for everything else.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pipewatch/pipewatch/internal/pipefile"
)

const defaultServer = "http://localhost:8080"

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage(out io.Writer) {
	fmt.Fprint(out, `
Pipewatch client.

Usage:
  pipewatch-cli [options] <command> [arguments]

Commands:
  validate <pipefile>          Parse a local Pipefile and report errors.
  register <owner/repo> <pipefile>
                               Bind a Pipefile to a repository.
  unregister <owner/repo>      Remove a repository's binding.
  runs <owner/repo>            List recent runs for a repository.
  run <run-id>                 Show one run, including step logs.
  cancel <run-id>              Cancel a queued or running run.

Options:
`)
}

// run dispatches the subcommand. Errors are reported to the caller so
// main owns the exit code.
func run(out io.Writer, args []string) error {
	flagSet := flag.NewFlagSet("pipewatch-cli", flag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.Usage = func() {
		usage(out)
		flagSet.PrintDefaults()
	}
	serverFlag := flagSet.String("server", defaultServer, "Base URL of the pipewatch server.")
	limitFlag := flagSet.Int("limit", 20, "Maximum number of runs to list.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return errors.New("a command is required")
	}

	c := &client{
		base: strings.TrimRight(*serverFlag, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
		out:  out,
	}

	cmd, rest := flagSet.Arg(0), flagSet.Args()[1:]
	switch cmd {
	case "validate":
		return cmdValidate(out, rest)
	case "register":
		return c.register(rest)
	case "unregister":
		return c.unregister(rest)
	case "runs":
		return c.runs(rest, *limitFlag)
	case "run":
		return c.run(rest)
	case "cancel":
		return c.cancel(rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// cmdValidate parses the Pipefile locally, no server involved.
func cmdValidate(out io.Writer, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: validate <pipefile>")
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	def, err := pipefile.Parse(string(src))
	if err != nil {
		var parseErr *pipefile.ParseError
		if errors.As(err, &parseErr) {
			return fmt.Errorf("%s: line %d, column %d: %s", args[0], parseErr.Line, parseErr.Column, parseErr.Msg)
		}
		return err
	}
	fmt.Fprintf(out, "✅ %s is valid: pipeline %q, version %s, %d step(s)\n",
		args[0], def.Name, def.Version, len(def.Steps))
	return nil
}

type client struct {
	base string
	http *http.Client
	out  io.Writer
}

func (c *client) register(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: register <owner/repo> <pipefile>")
	}
	repo, err := repoPath(args[0])
	if err != nil {
		return err
	}
	src, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPut, c.base+"/api/v1/repos/"+repo, strings.NewReader(string(src)))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var reg struct {
			Pipeline string `json:"pipeline"`
			Steps    int    `json:"steps"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "✅ Registered %s with pipeline %q (%d steps)\n", args[0], reg.Pipeline, reg.Steps)
		return nil
	case http.StatusUnprocessableEntity:
		var pe struct {
			Error  string `json:"error"`
			Line   int    `json:"line"`
			Column int    `json:"column"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&pe); err != nil {
			return err
		}
		return fmt.Errorf("%s: line %d, column %d: %s", args[1], pe.Line, pe.Column, pe.Error)
	default:
		return unexpectedStatus(resp)
	}
}

func (c *client) unregister(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: unregister <owner/repo>")
	}
	repo, err := repoPath(args[0])
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodDelete, c.base+"/api/v1/repos/"+repo, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		fmt.Fprintf(c.out, "✅ Unregistered %s\n", args[0])
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("repository %s is not registered", args[0])
	default:
		return unexpectedStatus(resp)
	}
}

func (c *client) runs(args []string, limit int) error {
	if len(args) != 1 {
		return errors.New("usage: runs <owner/repo>")
	}
	repo, err := repoPath(args[0])
	if err != nil {
		return err
	}
	resp, err := c.http.Get(fmt.Sprintf("%s/api/v1/repos/%s/runs?limit=%d", c.base, repo, limit))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}

	var records []struct {
		ID        string    `json:"id"`
		Pipeline  string    `json:"pipeline"`
		Status    string    `json:"status"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(c.out, "No runs for %s\n", args[0])
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(c.out, "%s  %-10s  %s  %s\n", rec.ID, rec.Status, rec.CreatedAt.Format(time.RFC3339), rec.Pipeline)
	}
	return nil
}

func (c *client) run(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: run <run-id>")
	}
	resp, err := c.http.Get(c.base + "/api/v1/runs/" + url.PathEscape(args[0]))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("run %s not found", args[0])
	default:
		return unexpectedStatus(resp)
	}

	// The record is printed as indented JSON rather than re-formatted,
	// so nothing the server reports gets lost.
	var record json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, record, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(c.out, pretty.String())
	return nil
}

func (c *client) cancel(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: cancel <run-id>")
	}
	resp, err := c.http.Post(c.base+"/api/v1/runs/"+url.PathEscape(args[0])+"/cancel", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted:
		fmt.Fprintf(c.out, "🛑 Cancellation requested for %s\n", args[0])
		return nil
	case http.StatusConflict:
		return fmt.Errorf("run %s has already finished", args[0])
	case http.StatusNotFound:
		return fmt.Errorf("run %s not found", args[0])
	default:
		return unexpectedStatus(resp)
	}
}

// repoPath validates the owner/name form and escapes each segment for
// use in a URL path.
func repoPath(repo string) (string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}
	return url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, msg)
}
