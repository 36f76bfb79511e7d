package ui

import (
	"fmt"
	"io"
	"time"
)

// StatusInfo is what `quarry status` shows for one project.
type StatusInfo struct {
	Root          string    `json:"root"`
	Indexed       bool      `json:"indexed"`
	Documents     int       `json:"documents"`
	Chunks        int       `json:"chunks"`
	ModelTag      string    `json:"model_tag,omitempty"`
	Dimensions    int       `json:"dimensions,omitempty"`
	Prefiltering  bool      `json:"prefiltering"`
	IndexSize     int64     `json:"index_size_bytes"`
	LastIndexed   time.Time `json:"last_indexed,omitempty"`
	DaemonRunning bool      `json:"daemon_running"`
	Watching      bool      `json:"watching"`
}

// StatusRenderer writes a human-readable status report.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the report.
func (r *StatusRenderer) Render(info StatusInfo) {
	fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("quarry status: "+info.Root))

	if !info.Indexed {
		fmt.Fprintln(r.out, "  Not indexed yet. Run 'quarry index' to build the index.")
		return
	}

	fmt.Fprintf(r.out, "  Files:      %d\n", info.Documents)
	fmt.Fprintf(r.out, "  Chunks:     %d\n", info.Chunks)
	fmt.Fprintf(r.out, "  Model:      %s (%d dims)\n", info.ModelTag, info.Dimensions)
	fmt.Fprintf(r.out, "  Prefilter:  %s\n", onOff(info.Prefiltering))
	if info.IndexSize > 0 {
		fmt.Fprintf(r.out, "  Index size: %s\n", formatBytes(info.IndexSize))
	}
	if !info.LastIndexed.IsZero() {
		fmt.Fprintf(r.out, "  Indexed:    %s\n", formatAge(info.LastIndexed))
	}

	fmt.Fprintln(r.out)
	if info.DaemonRunning {
		watch := "not watching"
		if info.Watching {
			watch = "watching for changes"
		}
		fmt.Fprintf(r.out, "  Daemon:     %s (%s)\n",
			r.styles.Success.Render("running"), watch)
	} else {
		fmt.Fprintf(r.out, "  Daemon:     %s\n", r.styles.Dim.Render("stopped"))
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatAge(t time.Time) string {
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
