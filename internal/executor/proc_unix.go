//go:build unix

package executor

import (
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"github.com/roach88/zenddiff/internal/ir"
)

// setProcessGroup starts the interpreter in its own process group and makes
// cancellation kill the whole group, including any children it forked.
// killed is set once the kill has been delivered.
func setProcessGroup(cmd *exec.Cmd, killed *atomic.Bool) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == syscall.ESRCH {
			return os.ErrProcessDone
		}
		if err == nil {
			killed.Store(true)
		}
		return err
	}
}

// diedOfKill reports whether the process was terminated by SIGKILL.
func diedOfKill(state *os.ProcessState) bool {
	if state == nil {
		return false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == syscall.SIGKILL
}

func exitStatus(state *os.ProcessState) ir.ExitStatus {
	if state == nil {
		return ir.ExitStatus{Kind: ir.StatusCrash, ExitCode: -1, Reason: "no process state"}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return ir.ExitStatus{Kind: ir.StatusCrash, ExitCode: -1, Signal: sig.String()}
	}
	return ir.ExitStatus{Kind: ir.StatusNormal, ExitCode: state.ExitCode()}
}
