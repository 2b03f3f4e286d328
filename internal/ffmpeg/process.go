package ffmpeg

import (
	"errors"
	"io"
	"os"
	"os/exec"
)

// Process is a running ffmpeg render
type Process struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

// Progress returns the machine-readable key=value progress stream
func (p *Process) Progress() io.Reader {
	return p.stdout
}

// Diagnostics returns ffmpeg's human-readable log stream
func (p *Process) Diagnostics() io.Reader {
	return p.stderr
}

// Wait blocks until ffmpeg exits. Both streams must be drained first. A
// nonzero exit is returned as *exec.ExitError.
func (p *Process) Wait() error {
	return p.cmd.Wait()
}

// Terminate asks ffmpeg to stop, killing it where interrupts are unsupported
func (p *Process) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Signal(os.Interrupt)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Pid returns the OS process id
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
