package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "health":
		cmdHealth()
	case "ingest":
		cmdIngest(os.Args[2:])
	case "tickets":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deskpipectl tickets <list|show|resolve>")
			os.Exit(1)
		}
		switch os.Args[2] {
		case "list":
			cmdTicketsList(os.Args[3:])
		case "show":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: deskpipectl tickets show <id>")
				os.Exit(1)
			}
			cmdTicketsShow(os.Args[3])
		case "resolve":
			if len(os.Args) < 4 {
				fmt.Fprintln(os.Stderr, "usage: deskpipectl tickets resolve <id> [--action A] [--message M]")
				os.Exit(1)
			}
			cmdTicketsResolve(os.Args[3], os.Args[4:])
		default:
			fmt.Fprintf(os.Stderr, "unknown tickets subcommand: %s\n", os.Args[2])
			os.Exit(1)
		}
	case "queues":
		if len(os.Args) > 2 {
			cmdQueueShow(os.Args[2])
		} else {
			cmdQueues()
		}
	case "agents":
		cmdAgents()
	case "claim":
		cmdClaim(os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: deskpipectl config validate <path>")
			os.Exit(1)
		}
		cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func cmdHealth() {
	body, err := apiGet("/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func cmdIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", "EMAIL", "Ticket source (EMAIL|DISCORD|GITHUB|FORM|WEBHOOK)")
	ctype := fs.String("content-type", "", "Payload shape (email|discord|github|form|sms); defaults from source")
	content := fs.String("payload", "", "Payload JSON (omit to read from stdin)")
	fs.Parse(args)

	raw := []byte(*content)
	if *content == "" {
		var err error
		raw, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read stdin: %v\n", err)
			os.Exit(1)
		}
	}

	payload := map[string]any{"source": *source, "payload": json.RawMessage(raw)}
	if *ctype != "" {
		payload["content_type"] = *ctype
	}
	body, err := apiPost("/api/tickets/ingest", payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsList(args []string) {
	fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status")
	queue := fs.String("queue", "", "Filter by queue")
	assignee := fs.String("assignee", "", "Filter by assignee")
	limit := fs.Int("limit", 50, "Max results")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d", *limit)
	if *status != "" {
		query += "&status=" + *status
	}
	if *queue != "" {
		query += "&queue=" + *queue
	}
	if *assignee != "" {
		query += "&assignee=" + *assignee
	}

	body, err := apiGet("/api/tickets" + query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp struct {
		Tickets []map[string]any `json:"tickets"`
		Total   int              `json:"total"`
	}
	json.Unmarshal(body, &resp)
	for _, t := range resp.Tickets {
		fmt.Printf("%-36s %-14s %-10s %-8s %s\n",
			t["id"], t["status"], t["current_queue"], t["priority"], t["title"])
	}
	fmt.Printf("total: %d\n", resp.Total)
}

func cmdTicketsShow(id string) {
	body, err := apiGet("/api/tickets/" + id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdTicketsResolve(id string, args []string) {
	fs := flag.NewFlagSet("tickets resolve", flag.ExitOnError)
	action := fs.String("action", "MANUAL", "Resolution action")
	message := fs.String("message", "", "Message sent back to the requester")
	fs.Parse(args)

	body, err := apiPost("/api/tickets/"+id+"/resolve", map[string]any{
		"action": *action, "message": *message,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdQueues() {
	body, err := apiGet("/api/queues")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var resp struct {
		Queues []map[string]any `json:"queues"`
	}
	json.Unmarshal(body, &resp)
	for _, q := range resp.Queues {
		fmt.Printf("%-12s depth=%v oldest=%vs\n", q["queue"], q["depth"], q["oldest_age_seconds"])
	}
}

func cmdQueueShow(name string) {
	body, err := apiGet("/api/queues/" + name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdAgents() {
	body, err := apiGet("/api/agents")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var agents []struct {
		Agent struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"agent"`
		ActiveTickets int `json:"active_tickets"`
	}
	json.Unmarshal(body, &agents)
	for _, a := range agents {
		fmt.Printf("%-10s %-18s %-10s active=%d\n", a.Agent.ID, a.Agent.Name, a.Agent.Status, a.ActiveTickets)
	}
}

func cmdClaim(args []string) {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	agentID := fs.String("agent", "", "Claiming agent ID")
	category := fs.String("category", "", "Only claim tickets in this category")
	maxPriority := fs.String("max-priority", "", "Skip tickets above this priority")
	fs.Parse(args)

	if *agentID == "" {
		fmt.Fprintln(os.Stderr, "error: --agent is required")
		os.Exit(1)
	}
	body, err := apiPost("/api/distribution/claim", map[string]any{
		"agent_id": *agentID, "category": *category, "max_priority": *maxPriority,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(prettyJSON(body))
}

func cmdConfigValidate(path string) {
	_, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("config is valid")
}

// --- Helpers ---

func apiGet(path string) ([]byte, error) {
	return apiDo("GET", path, nil)
}

func apiPost(path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return apiDo("POST", path, bytes.NewReader(data))
}

func apiDo(method, path string, body io.Reader) ([]byte, error) {
	base := envOr("DESKPIPE_API_URL", "http://localhost:8080")
	req, err := http.NewRequest(method, base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := os.Getenv("DESKPIPE_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(out))
	}
	return out, nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("deskpipectl — ticket pipeline CLI")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                  Check daemon health")
	fmt.Println("  ingest                  Submit a ticket (--source, --content-type, --payload or stdin)")
	fmt.Println("  tickets list            List tickets (--status, --queue, --assignee, --limit)")
	fmt.Println("  tickets show <id>       Show ticket details")
	fmt.Println("  tickets resolve <id>    Resolve a ticket (--action, --message)")
	fmt.Println("  queues [name]           Show queue stats, or one queue's entries")
	fmt.Println("  agents                  List agents with live load")
	fmt.Println("  claim                   Claim the next ticket (--agent, --category, --max-priority)")
	fmt.Println("  config validate <p>     Validate config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  DESKPIPE_API_URL   Daemon URL (default: http://localhost:8080)")
	fmt.Println("  DESKPIPE_API_KEY   API key for authentication")
}
