package recording

import (
	"context"
	"fmt"
	"os/exec"
)

// FFProbe validates an artifact's container with a short ffprobe run. It
// is the media-inspection collaborator; codec-level checks stay with the
// transcoding worker.
type FFProbe struct {
	Bin string
}

func NewFFProbe(bin string) *FFProbe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFProbe{Bin: bin}
}

func (p *FFProbe) Probe(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, p.Bin,
		"-v", "error",
		"-show_entries", "format=format_name",
		"-of", "csv=p=0",
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffprobe: %w: %s", err, out)
	}
	if len(out) == 0 {
		return fmt.Errorf("ffprobe: no container format detected")
	}
	return nil
}
