// Command annactl is the daemon's client (spec §6.5): it issues RPCs over
// the Unix domain socket and nothing else, exiting 0 on clean completion
// and non-zero on any RPC or semantic failure. Grounded on the teacher's
// flag-per-subcommand CLI shape (cmd/db-restore/main.go, cmd/cortex/main.go).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/anna-assistant/annad/internal/rpc"
)

const defaultSocketPath = "/var/run/anna/annad.sock"
const defaultDeadline = 30 * time.Second

func die(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: annactl [-socket path] <command> [args]

commands:
  status                             daemon liveness and autonomy tier
  info                                daemon version and task queue
  snapshot                            paths and socket config in effect
  reset                               downgrade autonomy to Observer
  probe <probe-id>                    run one probe on demand
  progress <case-id>                  look up a recorded case
  stats                               aggregate case statistics
  request <text> [runtime-context]    submit a Service Desk request
  plan <plan.json>                    register a change plan from a JSON file
  apply <content-hash> [confirmation] apply a previously planned change
  rollback <content-hash>             roll back a previously applied change
  autofix <text> [runtime-context]    run the pipeline and self-apply if allowed
  uninstall                           request graceful daemon shutdown`)
}

func main() {
	socketPath := flag.String("socket", defaultSocketPath, "daemon RPC socket path")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client, err := rpc.Dial(*socketPath, 5*time.Second)
	if err != nil {
		die("annactl: %v", err)
	}
	defer client.Close()

	cmd, rest := args[0], args[1:]
	result, err := dispatch(client, cmd, rest)
	if err != nil {
		if callErr, ok := err.(*rpc.CallError); ok {
			die("annactl: %s: %s", callErr.Kind, callErr.Message)
		}
		die("annactl: %v", err)
	}

	if result != nil {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	}
}

func dispatch(client *rpc.Client, cmd string, args []string) (json.RawMessage, error) {
	id := uuid.NewString()

	switch cmd {
	case "status":
		return client.Call(id, rpc.MethodStatus, nil, defaultDeadline)
	case "info":
		return client.Call(id, rpc.MethodGetDaemonInfo, nil, defaultDeadline)
	case "snapshot":
		return client.Call(id, rpc.MethodStatusSnapshot, nil, defaultDeadline)
	case "reset":
		return client.Call(id, rpc.MethodReset, nil, defaultDeadline)
	case "stats":
		return client.Call(id, rpc.MethodStats, nil, defaultDeadline)
	case "uninstall":
		return client.Call(id, rpc.MethodUninstall, map[string]bool{"confirm": true}, defaultDeadline)

	case "probe":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: annactl probe <probe-id>")
		}
		return client.Call(id, rpc.MethodProbe, map[string]string{"probe_id": args[0]}, defaultDeadline)

	case "progress":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: annactl progress <case-id>")
		}
		return client.Call(id, rpc.MethodProgress, map[string]string{"case_id": args[0]}, defaultDeadline)

	case "request":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: annactl request <text> [runtime-context]")
		}
		params := map[string]string{"user_request": args[0]}
		if len(args) > 1 {
			params["runtime_context"] = args[1]
		}
		return client.Call(id, rpc.MethodRequest, params, defaultDeadline)

	case "autofix":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: annactl autofix <text> [runtime-context]")
		}
		params := map[string]string{"user_request": args[0]}
		if len(args) > 1 {
			params["runtime_context"] = args[1]
		}
		return client.Call(id, rpc.MethodAutofix, params, defaultDeadline)

	case "plan":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: annactl plan <plan.json>")
		}
		body, err := os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("annactl: read plan file: %w", err)
		}
		var params json.RawMessage = body
		return client.Call(id, rpc.MethodPlanChange, params, defaultDeadline)

	case "apply":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: annactl apply <content-hash> [confirmation]")
		}
		params := map[string]string{"content_hash": args[0]}
		if len(args) > 1 {
			params["confirmation_echo"] = args[1]
		}
		return client.Call(id, rpc.MethodApplyChange, params, defaultDeadline)

	case "rollback":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: annactl rollback <content-hash>")
		}
		return client.Call(id, rpc.MethodRollbackChange, map[string]string{"content_hash": args[0]}, defaultDeadline)

	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}
