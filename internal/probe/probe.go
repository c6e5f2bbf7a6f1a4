// Package probe implements the Probe Registry (spec §4.B): named,
// read-only commands with typed parsers that fill Evidence Store entries.
package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/anna-assistant/annad/internal/evidence"
)

// Parser turns raw probe stdout into a kind-specific payload.
type Parser func(stdout []byte) (any, error)

// Definition describes a single registered probe (§4.B).
type Definition struct {
	ID        string
	Command   string
	Argv      []string
	Parser    Parser
	Timeout   time.Duration
	Emits     evidence.Kind
}

// Result is the outcome of running one probe.
type Result struct {
	ProbeID string
	Kind    evidence.Kind
	Payload any
	Failed  bool
	Err     error
}

// Runner executes a built argv and returns its stdout. It is the
// injectable seam that lets tests avoid shelling out to real host
// binaries, grounded on the reference's Backend interface
// (internal/dispatch/backend.go) which abstracts "run this command".
type Runner interface {
	Run(ctx context.Context, command string, argv []string, timeout time.Duration) ([]byte, error)
}

// ExecRunner runs probes via os/exec. It is the production Runner; the
// concrete probe commands themselves (df, lsblk, free, systemctl, ...) are
// named external collaborators per spec §1 and are supplied by the caller
// through Definition.Command/Argv, not hardcoded here.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command string, argv []string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, argv...)
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("probe: run %s: %w", command, err)
	}
	return out, nil
}

// Registry is the process-wide table of named probes (§4.B), a singleton
// handle passed explicitly to callers per §9 "Global state".
type Registry struct {
	defs   map[string]Definition
	runner Runner
}

// NewRegistry creates an empty Registry using runner to execute commands.
func NewRegistry(runner Runner) *Registry {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Registry{defs: make(map[string]Definition), runner: runner}
}

// Register adds or replaces a probe definition.
func (r *Registry) Register(def Definition) {
	r.defs = cloneAndSet(r.defs, def)
}

func cloneAndSet(m map[string]Definition, def Definition) map[string]Definition {
	out := make(map[string]Definition, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[def.ID] = def
	return out
}

// Lookup returns the definition for id, or ok=false if unregistered — the
// caller should surface rpcerr.NoProbeAvailable in that case (§7).
func (r *Registry) Lookup(id string) (Definition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// Run executes the named probe and stores its Evidence on success. On
// timeout or non-zero exit it returns Result.Failed=true and leaves the
// Evidence Store untouched so the caller can apply the freshness-ceiling
// fallback described in §4.B.
func (r *Registry) Run(ctx context.Context, id string, store *evidence.Store, now time.Time) Result {
	def, ok := r.defs[id]
	if !ok {
		return Result{ProbeID: id, Failed: true, Err: fmt.Errorf("probe: unknown probe %q", id)}
	}

	stdout, err := r.runner.Run(ctx, def.Command, def.Argv, def.Timeout)
	if err != nil {
		return Result{ProbeID: id, Kind: def.Emits, Failed: true, Err: err}
	}

	payload, err := def.Parser(stdout)
	if err != nil {
		return Result{ProbeID: id, Kind: def.Emits, Failed: true, Err: fmt.Errorf("probe: parse %s: %w", id, err)}
	}

	store.Capture(def.Emits, payload, now)
	return Result{ProbeID: id, Kind: def.Emits, Payload: payload}
}

// RunMany runs each of ids in turn and returns all results, applying a
// freshness-ceiling fallback to the Evidence Store's last-known value for
// any probe that failed (§4.B: "fallback... permitted only if age <= the
// kind's freshness ceiling").
func (r *Registry) RunMany(ctx context.Context, ids []string, store *evidence.Store, now time.Time) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		res := r.Run(ctx, id, store, now)
		if res.Failed {
			if def, ok := r.defs[id]; ok {
				if ev, age, ok := store.Latest(def.Emits, now); ok {
					if max, hasPolicy := evidence.FreshnessPolicies[def.Emits]; !hasPolicy || age <= max {
						res.Payload = ev.Payload
					}
				}
			}
		}
		results = append(results, res)
	}
	return results
}

// BuildArgv substitutes {target} placeholders into a probe's argument
// template, grounded on the reference's BuildCommand placeholder
// validation (internal/dispatch/command.go). Probes are read-only by
// construction (§4.B), so no prompt/model placeholders are needed — only
// the single {target} substitution a probe like `df -h {target}` requires.
func BuildArgv(template []string, target string) ([]string, error) {
	argv := make([]string, 0, len(template))
	for _, raw := range template {
		if strings.ContainsRune(raw, '\x00') {
			return nil, fmt.Errorf("probe: argv template contains NUL byte")
		}
		argv = append(argv, strings.ReplaceAll(raw, "{target}", target))
	}
	return argv, nil
}
