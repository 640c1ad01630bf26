package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ExecTranscoder pipes audio through an external encoder command that reads
// the input on stdin and writes the encoded voice data to stdout.
type ExecTranscoder struct {
	Command []string
}

func (t ExecTranscoder) PCMEncode(ctx context.Context, data []byte) ([]byte, error) {
	if len(t.Command) == 0 {
		return nil, fmt.Errorf("%w: no command configured", ErrTranscode)
	}
	cmd := exec.CommandContext(ctx, t.Command[0], t.Command[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrTranscode, err, bytes.TrimSpace(stderr.Bytes()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrTranscode)
	}
	return stdout.Bytes(), nil
}
