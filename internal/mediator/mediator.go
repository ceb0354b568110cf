// Package mediator serializes every invocation of the shared bd issue
// tracker CLI. The wrapped tool corrupts its state store under concurrent
// use, so a width-1 slot is the single global bottleneck: at most one bd
// process runs at any instant, system-wide.
package mediator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Op is one of the fixed bd subcommands the mediator will run.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpClose  Op = "close"
	OpList   Op = "list"
	OpShow   Op = "show"
)

// ValidOp reports whether op is in the fixed command set.
func ValidOp(op Op) bool {
	switch op {
	case OpCreate, OpUpdate, OpClose, OpList, OpShow:
		return true
	}
	return false
}

// Mutating reports whether op changes tracker state. Mutating calls are
// never retried automatically; they are not safely idempotent.
func (o Op) Mutating() bool {
	switch o {
	case OpCreate, OpUpdate, OpClose:
		return true
	}
	return false
}

// Invocation is one queued unit of work. It is owned by the mediator for
// its lifetime and never shared across executions.
type Invocation struct {
	Op   Op
	Args []string
}

// Bead is a tracker work item as emitted by bd --json.
type Bead struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	Type        string    `json:"issue_type,omitempty"`
	Priority    int       `json:"priority"`
	Assignee    string    `json:"assignee,omitempty"`
	CreatedAt   time.Time `json:"created,omitempty"`
	UpdatedAt   time.Time `json:"updated,omitempty"`
}

// Result holds the parsed output of one invocation. Bead is set for
// create/update/close/show; Beads for list.
type Result struct {
	Bead  *Bead
	Beads []Bead
}

// ToolError reports a failed or unparseable CLI invocation.
type ToolError struct {
	Op       Op
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("mediator: bd %s failed (exit %d)", e.Op, e.ExitCode)
	}
	return fmt.Sprintf("mediator: bd %s failed (exit %d): %s", e.Op, e.ExitCode, stderr)
}

// Record is one entry in the invocation log, kept for overlap auditing
// and the agents debug view.
type Record struct {
	Op     Op
	Start  time.Time
	End    time.Time
	Failed bool
}

// maxLog bounds the in-memory invocation log.
const maxLog = 64

// DefaultTimeout bounds a single bd execution; the CLI is external and
// can hang.
const DefaultTimeout = 30 * time.Second

// Runner executes one CLI process and returns its output and exit code.
// Injected by tests; the default shells out.
type Runner func(ctx context.Context, dir, binary string, args []string) (stdout, stderr []byte, exitCode int, err error)

// Mediator owns the bd working directory. No other component may touch it.
type Mediator struct {
	binary  string
	workdir string
	timeout time.Duration
	run     Runner
	onClose func(Bead)

	slot chan struct{} // width-1 execution slot

	mu  sync.Mutex
	log []Record
}

// Opts holds parameters for creating a Mediator.
type Opts struct {
	Binary  string        // defaults to "bd"
	WorkDir string        // tracker working directory, defaults to "."
	Timeout time.Duration // per-invocation, defaults to DefaultTimeout
	OnClose func(Bead)    // optional, called after a successful close
	Runner  Runner        // test injection point
}

// New creates a Mediator.
func New(opts Opts) *Mediator {
	binary := opts.Binary
	if binary == "" {
		binary = "bd"
	}
	workdir := opts.WorkDir
	if workdir == "" {
		workdir = "."
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	run := opts.Runner
	if run == nil {
		run = execRunner
	}
	return &Mediator{
		binary:  binary,
		workdir: workdir,
		timeout: timeout,
		run:     run,
		onClose: opts.OnClose,
		slot:    make(chan struct{}, 1),
	}
}

// Invoke queues the invocation behind the execution slot and runs it.
// Callers block until their turn; a cancelled caller gives up its place
// without affecting others. Read-only ops are retried once on failure;
// mutating ops never are.
func (m *Mediator) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	if !ValidOp(inv.Op) {
		return nil, fmt.Errorf("mediator: unknown op %q", inv.Op)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mediator: waiting for slot: %w", err)
	}
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("mediator: waiting for slot: %w", ctx.Err())
	}
	defer func() { <-m.slot }()

	res, err := m.execute(ctx, inv)
	if err != nil && !inv.Op.Mutating() {
		res, err = m.execute(ctx, inv)
	}
	if err != nil {
		return nil, err
	}

	if inv.Op == OpClose && m.onClose != nil && res.Bead != nil {
		m.onClose(*res.Bead)
	}
	return res, nil
}

// execute runs one attempt and records it in the log.
func (m *Mediator) execute(ctx context.Context, inv Invocation) (*Result, error) {
	args := append([]string{string(inv.Op)}, inv.Args...)
	args = append(args, "--json")

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec := Record{Op: inv.Op, Start: time.Now()}
	stdout, stderr, exitCode, runErr := m.run(runCtx, m.workdir, m.binary, args)
	rec.End = time.Now()

	res, err := m.outcome(runCtx, inv, stdout, stderr, exitCode, runErr)
	rec.Failed = err != nil
	m.record(rec)
	return res, err
}

func (m *Mediator) outcome(ctx context.Context, inv Invocation, stdout, stderr []byte, exitCode int, runErr error) (*Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &ToolError{Op: inv.Op, ExitCode: -1, Stderr: fmt.Sprintf("timed out after %s", m.timeout)}
	}
	if runErr != nil && exitCode == 0 {
		return nil, fmt.Errorf("mediator: run bd %s: %w", inv.Op, runErr)
	}
	if exitCode != 0 {
		return nil, &ToolError{Op: inv.Op, ExitCode: exitCode, Stderr: string(stderr)}
	}
	return parseOutput(inv.Op, stdout, stderr)
}

// parseOutput strictly decodes bd's JSON output. Any deviation from the
// expected shape is a hard failure, not best-effort parsing.
func parseOutput(op Op, stdout, stderr []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, &ToolError{Op: op, Stderr: "empty output from bd"}
	}
	if op == OpList {
		var beads []Bead
		if err := json.Unmarshal(trimmed, &beads); err != nil {
			return nil, &ToolError{Op: op, Stderr: fmt.Sprintf("unparseable output: %v", err)}
		}
		return &Result{Beads: beads}, nil
	}
	var bead Bead
	if err := json.Unmarshal(trimmed, &bead); err != nil {
		return nil, &ToolError{Op: op, Stderr: fmt.Sprintf("unparseable output: %v", err)}
	}
	if bead.ID == "" {
		return nil, &ToolError{Op: op, Stderr: "output missing bead id"}
	}
	return &Result{Bead: &bead}, nil
}

// record appends to the bounded invocation log.
func (m *Mediator) record(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, rec)
	if len(m.log) > maxLog {
		m.log = m.log[len(m.log)-maxLog:]
	}
}

// Log returns a copy of the recent invocation log.
func (m *Mediator) Log() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.log...)
}

// execRunner is the production runner: it shells out to bd in the tracker
// working directory.
func execRunner(ctx context.Context, dir, binary string, args []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdout.Bytes(), stderr.Bytes(), 0, err
		}
	}
	return stdout.Bytes(), stderr.Bytes(), exitCode, nil
}
