package tunnel

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"iotbox/boxd/pkg/shell"
)

// Process supervises the tunnel as a plain child process found by name.
type Process struct {
	Binary  string
	LogFile string
	Port    int
	Runner  shell.Runner
	Log     zerolog.Logger
}

// Running asks pgrep for a process with the binary's name. pgrep exits 1 when
// nothing matches.
func (p *Process) Running(ctx context.Context) (bool, error) {
	res, err := p.Runner.Run(ctx, "pgrep", "-x", filepath.Base(p.Binary))
	if err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return false, err
		}
	}
	switch res.Code {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, &shell.ExitError{Name: "pgrep", Code: res.Code, Stderr: string(res.Stderr)}
	}
}

func (p *Process) Start(authToken string) error {
	cmd := exec.Command(p.Binary, TCPArgs(authToken, p.LogFile, p.Port)...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		err := cmd.Wait()
		p.Log.Info().Err(err).Int("pid", cmd.Process.Pid).Msg("tunnel process exited")
	}()
	return nil
}
