package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/api"
	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/orchestrator"
)

const help = `Commands:
  agents                    list agent personas
  exec <TYPE> [goal]        run an agent and wait for its report
  submit <TYPE> [goal]      queue a run and print its id
  runs                      list queued and finished runs
  run <ID>                  show one run
  insights [TYPE]           list unresolved insights
  resolve <ID>              mark an insight resolved
  health                    server health
  exit                      leave`

type client struct {
	server string
	apiKey string
	http   *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:3210", "Insight agents server URL")
	apiKey := flag.String("api-key", os.Getenv("NEUROKID_API_KEY"), "API key sent as "+api.APIKeyHeader)
	flag.Parse()

	c := &client{server: strings.TrimRight(*server, "/"), apiKey: *apiKey, http: &http.Client{Timeout: 11 * time.Minute}}

	fmt.Println("NeuroKid insight agents CLI")
	fmt.Printf("Server: %s\n", c.server)
	fmt.Println(help)
	fmt.Println("---")

	// Non-interactive: agentctl exec ENGAGEMENT_ANALYST
	if flag.NArg() > 0 {
		c.dispatch(flag.Args())
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			fmt.Println("Bye!")
			return
		}
		c.dispatch(fields)
	}
}

func (c *client) dispatch(args []string) {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "agents":
		c.listAgents()
	case "exec", "submit":
		if len(rest) == 0 {
			printError("usage: %s <TYPE> [goal]", cmd)
			return
		}
		body := map[string]interface{}{}
		if len(rest) > 1 {
			body["goal"] = agent.Goal{Description: strings.Join(rest[1:], " ")}
		}
		if cmd == "exec" {
			c.execute(strings.ToUpper(rest[0]), body)
		} else {
			c.submit(strings.ToUpper(rest[0]), body)
		}
	case "runs":
		c.listRuns()
	case "run":
		if len(rest) != 1 {
			printError("usage: run <ID>")
			return
		}
		c.showRun(rest[0])
	case "insights":
		q := url.Values{"unresolved": {"true"}}
		if len(rest) > 0 {
			q.Set("agent_type", strings.ToUpper(rest[0]))
		}
		c.listInsights(q)
	case "resolve":
		if len(rest) != 1 {
			printError("usage: resolve <ID>")
			return
		}
		var out map[string]string
		if c.do(http.MethodPost, "/api/insights/"+url.PathEscape(rest[0])+"/resolve", nil, &out) {
			fmt.Printf("Insight %s %s\n", out["id"], out["status"])
		}
	case "health":
		var out map[string]interface{}
		if c.do(http.MethodGet, "/api/health", nil, &out) {
			printJSON(out)
		}
	case "help":
		fmt.Println(help)
	default:
		printError("unknown command %q, try help", cmd)
	}
}

func (c *client) listAgents() {
	var agents []agent.Config
	if !c.do(http.MethodGet, "/api/agents", nil, &agents) {
		return
	}
	fmt.Println("Agents:")
	for _, a := range agents {
		state := "\033[32menabled\033[0m"
		if !a.Enabled {
			state = "\033[31mdisabled\033[0m"
		}
		fmt.Printf("  %-20s %-22s %-8s %s\n", a.Type, a.Name, a.Schedule, state)
	}
}

func (c *client) execute(agentType string, body map[string]interface{}) {
	var res controller.Result
	if !c.do(http.MethodPost, "/api/agents/"+agentType+"/execute", body, &res) {
		return
	}
	printResult(&res)
}

func (c *client) submit(agentType string, body map[string]interface{}) {
	var run orchestrator.Run
	if c.do(http.MethodPost, "/api/agents/"+agentType+"/runs", body, &run) {
		fmt.Printf("Queued run %s (%s, priority %d)\n", run.ID, run.AgentType, run.Priority)
	}
}

func (c *client) listRuns() {
	var runs []orchestrator.Run
	if !c.do(http.MethodGet, "/api/runs", nil, &runs) {
		return
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet.")
		return
	}
	for _, r := range runs {
		fmt.Printf("  %s  %-20s %-8s %s\n", r.ID, r.AgentType, r.Status, r.CreatedAt.Local().Format(time.DateTime))
	}
}

func (c *client) showRun(id string) {
	var run orchestrator.Run
	if !c.do(http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &run) {
		return
	}
	fmt.Printf("Run %s: %s (%s)\n", run.ID, run.Status, run.AgentType)
	if run.Error != "" {
		printError("%s", run.Error)
	}
	if run.Result != nil {
		printResult(run.Result)
	}
}

func (c *client) listInsights(q url.Values) {
	var list []*memory.Insight
	if !c.do(http.MethodGet, "/api/insights?"+q.Encode(), nil, &list) {
		return
	}
	if len(list) == 0 {
		fmt.Println("No open insights.")
		return
	}
	for _, in := range list {
		fmt.Printf("  [%s] %-8s %s: %s\n", in.ID, in.Severity, in.AgentType, in.Title)
	}
}

// do sends a request and decodes a 2xx body into out. It prints failures and
// reports whether out was filled.
func (c *client) do(method, path string, body interface{}, out interface{}) bool {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.server+path, reader)
	if err != nil {
		printError("Bad request: %v", err)
		return false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(api.APIKeyHeader, c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		printError("Request failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		printError("Failed to parse response: %v", err)
		return false
	}
	return true
}

func printResult(res *controller.Result) {
	if !res.Success {
		printError("%s failed: %s", res.AgentType, res.Error)
	}
	rep := res.Report
	if rep == nil {
		return
	}
	fmt.Printf("\033[36m[%s]\033[0m confidence %.2f, %d steps, %dms\n",
		rep.AgentType, rep.ConfidenceScore, rep.ReasoningSteps, rep.ExecutionTimeMs)
	fmt.Println(rep.ExecutiveSummary)
	for _, risk := range rep.DetectedRisks {
		fmt.Printf("  ! %-8s %s\n", risk.Severity, risk.Title)
	}
	for _, rec := range rep.Recommendations {
		fmt.Printf("  > %-8s %s\n", rec.Priority, rec.Title)
	}
	if len(res.InsightIDs) > 0 {
		fmt.Printf("Saved %d insight(s)\n", len(res.InsightIDs))
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
