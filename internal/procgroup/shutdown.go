// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts external tools in their own process group and
// tears the whole group down on stop.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
)

// Terminate stops a process group: SIGTERM, then SIGKILL if the process has
// not exited within grace. waitCh must deliver the result of cmd.Wait; it is
// always drained and its error returned. Safe to call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signal(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
		xglog.L().Warn().
			Int(xglog.FieldPID, cmd.Process.Pid).
			Dur("grace", grace).
			Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
		signal(cmd, syscall.SIGKILL)
		return <-waitCh
	}
}

func signal(cmd *exec.Cmd, sig syscall.Signal) {
	if err := Kill(cmd, sig); err != nil {
		xglog.L().Debug().Err(err).Int(xglog.FieldPID, cmd.Process.Pid).Str("signal", sig.String()).Msg("signal process group failed")
		return
	}
	metrics.ProcessKills.WithLabelValues(sig.String()).Inc()
}
