package functions

import (
	"context"
	"time"

	"github.com/cuemby/chess/pkg/deploy"
)

// DeployParams mirrors the Ansible invocation parameters a Deploy call
// carries.
type DeployParams struct {
	Playbook  string `json:"playbook"`
	Cmd       string `json:"cmd"`
	Inventory string `json:"inventory"`
}

// DeployInput is the parameter shape for the Deploy function.
type DeployInput struct {
	Params DeployParams `json:"params"`
}

// DeployOutput is the result shape for the Deploy function: the task
// identifier a later DeployStatus call looks up.
type DeployOutput struct {
	TaskIdent     string `json:"task_ident"`
	StartTime     string `json:"start_time"`
	InitialStatus string `json:"initial_status"`
}

// DeployStatusInput is the parameter shape for the DeployStatus
// function.
type DeployStatusInput struct {
	Ident string `json:"ident"`
}

// DeployStatusOutput is the result shape for the DeployStatus
// function.
type DeployStatusOutput struct {
	Ident   string `json:"ident"`
	Success bool   `json:"success"`
	RC      int    `json:"rc"`
	Status  string `json:"status"`
}

func newDeployHandler(launcher *deploy.Launcher) Handler {
	return WrapTyped(func(_ context.Context, in DeployInput) (DeployOutput, error) {
		ident, startedAt, err := launcher.Launch(deploy.Params{
			Playbook:  in.Params.Playbook,
			Cmd:       in.Params.Cmd,
			Inventory: in.Params.Inventory,
		})
		if err != nil {
			return DeployOutput{}, err
		}
		return DeployOutput{
			TaskIdent:     ident,
			StartTime:     startedAt.Format(time.RFC3339),
			InitialStatus: "scheduled",
		}, nil
	})
}

func newDeployStatusHandler(launcher *deploy.Launcher) Handler {
	return WrapTyped(func(_ context.Context, in DeployStatusInput) (DeployStatusOutput, error) {
		result, err := launcher.Status(in.Ident)
		if err != nil {
			return DeployStatusOutput{}, err
		}
		return DeployStatusOutput{
			Ident:   result.Ident,
			Success: result.Success,
			RC:      result.RC,
			Status:  result.Status,
		}, nil
	})
}

// Default returns a Registry with the Hello, Deploy, and DeployStatus
// functions registered, the latter two backed by launcher.
func Default(launcher *deploy.Launcher) *Registry {
	r := NewRegistry()
	r.Register("Hello", WrapTyped(hello))
	r.Register("Deploy", newDeployHandler(launcher))
	r.Register("DeployStatus", newDeployStatusHandler(launcher))
	return r
}
