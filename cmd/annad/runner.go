package main

import (
	"bytes"
	"context"
	"os/exec"
)

// shellRunner executes one change/rollback/verification step through the
// host shell, implementing change.CommandRunner. Grounded on probe.ExecRunner's
// os/exec shape one level up: a change Step's Command is a full shell
// command line rather than a fixed argv, since §4.J's steps come from
// either a recipe's stored ActionPlan or an operator-approved plan, not a
// template the daemon itself parameterizes.
type shellRunner struct{}

func (shellRunner) Run(ctx context.Context, command string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
