// Package deploy launches the embedded Ansible runner as an external
// process and reads back the status files it writes. The runner
// itself is an opaque collaborator: this package only builds its
// argument list, starts it, and later reads the rc/status files it is
// expected to leave behind.
package deploy

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/chess/pkg/log"
)

// Params are the caller-supplied Ansible invocation parameters.
type Params struct {
	Playbook  string
	Cmd       string
	Inventory string
}

// StatusResult is the outcome recorded by the runner for one task.
type StatusResult struct {
	Ident   string
	Success bool
	RC      int
	Status  string
}

// Launcher starts Ansible runner tasks under one private data
// directory and reads back their recorded status.
type Launcher struct {
	privateDataDir string
	runnerBin      string
}

const defaultRunnerBin = "ansible-runner"

// NewLauncher returns a Launcher rooted at privateDataDir, creating it
// if absent.
func NewLauncher(privateDataDir string) (*Launcher, error) {
	if err := os.MkdirAll(privateDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create private data dir %s: %w", privateDataDir, err)
	}
	return &Launcher{privateDataDir: privateDataDir, runnerBin: defaultRunnerBin}, nil
}

// Launch starts an Ansible run for params under a fresh task
// identifier and returns immediately; the runner process writes its
// own rc/status files under <privateDataDir>/artifacts/<ident>/ once
// it completes, asynchronously with respect to this call.
func (l *Launcher) Launch(params Params) (ident string, startedAt time.Time, err error) {
	ident = uuid.NewString()
	startedAt = time.Now()

	cmd := exec.Command(l.runnerBin, "run", l.privateDataDir,
		"--ident", ident,
		"-p", params.Playbook,
		"--cmdline", params.Cmd,
		"-i", params.Inventory,
	)
	cmd.Env = append(os.Environ(), "PRIVATE_DATA_DIR="+l.privateDataDir)

	runLog := log.WithComponent("deploy")
	runLog.Info().Str("ident", ident).Str("playbook", params.Playbook).Msg("launching ansible runner task")

	if err := cmd.Start(); err != nil {
		return "", time.Time{}, fmt.Errorf("launch ansible runner: %w", err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			runLog.Warn().Err(err).Str("ident", ident).Msg("ansible runner task exited with an error")
		}
	}()

	return ident, startedAt, nil
}

// Status reads the rc and status files the runner writes to
// <privateDataDir>/artifacts/<ident>/ on completion. A missing
// artifact directory is reported as an error status rather than a Go
// error, since a caller querying too early or with a stale ident is
// an expected case, not a failure of this package.
func (l *Launcher) Status(ident string) (StatusResult, error) {
	dir := filepath.Join(l.privateDataDir, "artifacts", ident)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return StatusResult{
			Ident:   ident,
			Success: false,
			RC:      127,
			Status:  fmt.Sprintf("ERROR: Task directory at %s", dir),
		}, nil
	}

	rcRaw, err := os.ReadFile(filepath.Join(dir, "rc"))
	if err != nil {
		return StatusResult{}, fmt.Errorf("read rc for %s: %w", ident, err)
	}
	statusRaw, err := os.ReadFile(filepath.Join(dir, "status"))
	if err != nil {
		return StatusResult{}, fmt.Errorf("read status for %s: %w", ident, err)
	}

	rc, err := strconv.Atoi(strings.TrimSpace(string(rcRaw)))
	if err != nil {
		return StatusResult{}, fmt.Errorf("parse rc for %s: %w", ident, err)
	}

	return StatusResult{
		Ident:   ident,
		Success: rc == 0,
		RC:      rc,
		Status:  strings.TrimSpace(string(statusRaw)),
	}, nil
}
