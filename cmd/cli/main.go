// Operator REPL for the coordinator's admin API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gavel/internal/coordinator/confgen"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

func main() {
	baseURL := flag.String("base", "http://127.0.0.1:8090", "Coordinator base URL")
	token := flag.String("token", "", "Admin access token")
	timeout := flag.Duration("timeout", 10*time.Second, "HTTP timeout")
	flag.Parse()

	session := &session{
		baseURL: strings.TrimRight(*baseURL, "/"),
		token:   *token,
		client:  &http.Client{Timeout: *timeout},
	}
	session.run()
}

type session struct {
	baseURL string
	token   string
	client  *http.Client
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("register"),
	readline.PcItem("list"),
	readline.PcItem("enable"),
	readline.PcItem("disable"),
	readline.PcItem("remove"),
	readline.PcItem("pending"),
	readline.PcItem("rejudge"),
	readline.PcItem("genconf"),
	readline.PcItem("token"),
	readline.PcItem("help"),
	readline.PcItem("exit"),
)

func (s *session) run() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gavel> ",
		HistoryFile:     historyPath(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init readline failed: %v\n", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if err := s.dispatch(line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func (s *session) dispatch(line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command: %w", err)
	}
	switch args[0] {
	case "help":
		printHelp()
		return nil
	case "token":
		if len(args) != 2 {
			return fmt.Errorf("usage: token <access_token>")
		}
		s.token = args[1]
		fmt.Println("token updated")
		return nil
	case "register":
		return s.register(args[1:])
	case "list":
		return s.call(http.MethodGet, "/api/admin/judgers", nil)
	case "enable", "disable":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <node_id>", args[0])
		}
		body := map[string]bool{"enabled": args[0] == "enable"}
		return s.call(http.MethodPost, "/api/admin/judgers/"+args[1]+"/enabled", body)
	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: remove <node_id>")
		}
		return s.call(http.MethodDelete, "/api/admin/judgers/"+args[1], nil)
	case "pending":
		return s.call(http.MethodGet, "/api/admin/queue", nil)
	case "rejudge":
		if len(args) != 2 {
			return fmt.Errorf("usage: rejudge <submission_id>")
		}
		return s.call(http.MethodPost, "/api/admin/submissions/"+args[1]+"/rejudge", nil)
	case "genconf":
		return s.genconf(args[1:])
	default:
		return fmt.Errorf("unknown command %q, try help", args[0])
	}
}

// register <name> <max_concurrent> [lang,lang,...]
// The response includes the node's one-time secret and a rendered worker
// config; save both, the server keeps neither. Omitting the language list
// registers the node for all languages.
func (s *session) register(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: register <name> <max_concurrent> [languages]")
	}
	maxConcurrent, err := strconv.Atoi(args[1])
	if err != nil || maxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be a positive integer")
	}
	body := map[string]interface{}{
		"name":           args[0],
		"max_concurrent": maxConcurrent,
	}
	if len(args) == 3 {
		body["languages"] = strings.Split(args[2], ",")
	}
	return s.call(http.MethodPost, "/api/admin/judgers", body)
}

// genconf <node_id> <secret> renders locally so the secret never goes over
// the wire; the server could not render it anyway, it keeps only a hash.
func (s *session) genconf(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: genconf <node_id> <secret>")
	}
	blob, err := confgen.Generate(confgen.Params{
		NodeID:         args[0],
		Secret:         args[1],
		CoordinatorURL: s.baseURL,
	})
	if err != nil {
		return err
	}
	fmt.Print(string(blob))
	return nil
}

func (s *session) call(method, path string, body interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	return nil
}

func printHelp() {
	fmt.Print(`commands:
  register <name> <max_concurrent> [lang,lang,...]   register a judger node (omit languages for all)
  list                                               list nodes with runtime state
  enable <node_id> | disable <node_id>               toggle a node
  remove <node_id>                                   soft-delete a node
  pending                                            queue depth and in-flight count
  rejudge <submission_id>                            requeue a submission
  genconf <node_id> <secret>                         render a worker config
  token <access_token>                               set the admin token
  exit
`)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.gavel_history"
}
