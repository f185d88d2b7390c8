package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "http://localhost:8080", "doc-tiering API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{addr: strings.TrimSuffix(*addr, "/"), http: &http.Client{Timeout: 10 * time.Minute}}

	switch args[0] {
	case "version":
		fmt.Printf("doc-tiering-ctl %s\n", version)
	case "status":
		c.printJSON(c.do("GET", "/v1/status", nil))
	case "run":
		path := "/v1/passes"
		if len(args) > 1 {
			path += "?now=" + url.QueryEscape(args[1])
		}
		c.printJSON(c.do("POST", path, nil))
	case "passes":
		limit := "20"
		if len(args) > 1 {
			limit = args[1]
		}
		cmdPasses(c, limit)
	case "thresholds":
		if len(args) > 1 {
			cmdSetThresholds(c, args[1:])
			return
		}
		c.printJSON(c.do("GET", "/v1/thresholds", nil))
	case "stats":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: doc-tiering-ctl stats <document>")
			os.Exit(1)
		}
		c.printJSON(c.do("GET", "/v1/stats/"+escapeName(args[1]), nil))
	case "touch":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: doc-tiering-ctl touch <document> [kind]")
			os.Exit(1)
		}
		var body []byte
		if len(args) > 2 {
			body, _ = json.Marshal(map[string]string{"kind": args[2]})
		}
		c.printJSON(c.do("POST", "/v1/access/"+escapeName(args[1]), body))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `doc-tiering-ctl - document tiering management CLI

Usage:
  doc-tiering-ctl [flags] <command> [args]

Commands:
  status                      Show service status and the last pass
  run [now]                   Run a tiering pass (now is RFC 3339, optional)
  passes [limit]              List recent passes
  thresholds                  Show the active thresholds
  thresholds key=value ...    Update thresholds, e.g. hot_to_cool_days=14
  stats <document>            Show a document's access stats
  touch <document> [kind]     Record an access
  version                     Show version

Flags:
  -addr string   API address (default "http://localhost:8080")`)
}

type client struct {
	addr string
	http *http.Client
}

// do performs the request and exits on transport errors or error statuses.
func (c *client) do(method, path string, body []byte) []byte {
	req, err := http.NewRequest(method, c.addr+path, bytes.NewReader(body))
	if err != nil {
		fail(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fail(err)
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", method, path, resp.Status)
		os.Stderr.Write(data)
		os.Exit(1)
	}
	return data
}

func cmdPasses(c *client, limit string) {
	var recs []struct {
		ID          string    `json:"id"`
		Trigger     string    `json:"trigger"`
		StartedAt   time.Time `json:"started_at"`
		FinishedAt  time.Time `json:"finished_at"`
		Moved       int       `json:"moved"`
		Archived    int       `json:"archived"`
		Deleted     int       `json:"deleted"`
		Reconciled  int       `json:"reconciled"`
		Skipped     int       `json:"skipped"`
		Errors      int       `json:"errors"`
		Interrupted bool      `json:"interrupted"`
		Err         string    `json:"error"`
	}
	if err := json.Unmarshal(c.do("GET", "/v1/passes?limit="+url.QueryEscape(limit), nil), &recs); err != nil {
		fail(fmt.Errorf("decoding response: %w", err))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTRIGGER\tTOOK\tMOVED\tARCHIVED\tDELETED\tRECONCILED\tSKIPPED\tERRORS\tRESULT")
	for _, r := range recs {
		result := "ok"
		switch {
		case r.Err != "":
			result = r.Err
		case r.Interrupted:
			result = "interrupted"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Trigger, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.Moved, r.Archived, r.Deleted, r.Reconciled, r.Skipped, r.Errors, result)
	}
	w.Flush()
}

func cmdSetThresholds(c *client, pairs []string) {
	update := make(map[string]int, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			fail(fmt.Errorf("expected key=value, got %q", p))
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			fail(fmt.Errorf("%s: %w", k, err))
		}
		update[k] = n
	}
	body, _ := json.Marshal(update)
	c.printJSON(c.do("PUT", "/v1/thresholds", body))
}

// escapeName escapes each segment of a slash-separated document name.
func escapeName(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (c *client) printJSON(data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fail(fmt.Errorf("decoding response: %w", err))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
