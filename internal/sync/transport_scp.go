package sync

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// SCPTransfer copies files by running an scp binary. Each call runs one
// process; its combined stdout and stderr become the result output.
type SCPTransfer struct {
	command   string
	extraArgs []string
}

// NewSCPTransfer returns a Transferer that runs command (usually "scp") with
// extraArgs placed before the source and destination operands.
func NewSCPTransfer(command string, extraArgs []string) *SCPTransfer {
	return &SCPTransfer{
		command:   command,
		extraArgs: append([]string(nil), extraArgs...),
	}
}

// Args returns the scp argument list for copying localPath to dst. Batch
// mode stops scp from prompting for a password on a terminal nobody watches.
func (s *SCPTransfer) Args(localPath string, dst Destination) []string {
	args := make([]string, 0, len(s.extraArgs)+6)
	args = append(args, "-P", strconv.Itoa(dst.Port), "-B", "-q")
	args = append(args, s.extraArgs...)
	args = append(args, localPath, dst.String())

	return args
}

// Transfer runs scp and reports its exit status. A non-zero exit is a result,
// not an error; errors mean the process could not be started or was killed.
func (s *SCPTransfer) Transfer(ctx context.Context, localPath string, dst Destination) (TransferResult, error) {
	cmd := exec.CommandContext(ctx, s.command, s.Args(localPath, dst)...)
	out, err := cmd.CombinedOutput()

	res := TransferResult{Output: string(out)}

	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("sync: %s canceled: %w", s.command, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1

	return res, fmt.Errorf("sync: running %s: %w", s.command, err)
}
