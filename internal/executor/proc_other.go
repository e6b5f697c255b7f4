//go:build !unix

package executor

import (
	"os"
	"os/exec"
	"sync/atomic"

	"github.com/roach88/zenddiff/internal/ir"
)

func setProcessGroup(cmd *exec.Cmd, killed *atomic.Bool) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := cmd.Process.Kill()
		if err == nil {
			killed.Store(true)
		}
		return err
	}
}

func diedOfKill(state *os.ProcessState) bool {
	return state != nil && !state.Success()
}

func exitStatus(state *os.ProcessState) ir.ExitStatus {
	if state == nil {
		return ir.ExitStatus{Kind: ir.StatusCrash, ExitCode: -1, Reason: "no process state"}
	}
	return ir.ExitStatus{Kind: ir.StatusNormal, ExitCode: state.ExitCode()}
}
