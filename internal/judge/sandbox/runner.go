package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Request describes one isolated command execution. Code and stdin travel
// inside the request and are materialized inside the container; nothing is
// mounted from the host.
type Request struct {
	// Image is the container image to run in.
	Image string

	// SourceFile is the filename the code is written to inside the workdir.
	SourceFile string

	// Code is the submitted source.
	Code string

	// Stdin is the test case input, written to input.txt.
	Stdin string

	// Command is the shell command executed in the workdir after the files
	// are in place, e.g. "python3 solution.py < input.txt".
	Command string

	// TimeLimitMS is the challenge time limit. The wall clock budget is
	// TimeLimitMS plus a fixed slack for interpreter startup.
	TimeLimitMS int64

	// MemoryLimitMB caps container memory. Swap is pinned to the same value.
	MemoryLimitMB int64
}

// Result is the outcome of one sandboxed execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimeMS   int64
	MemoryMB int64
}

// TimedOut reports whether the execution was killed at the wall clock limit.
func (r Result) TimedOut() bool {
	return r.ExitCode == ExitCodeTimeout
}

// ExitCodeTimeout is the exit code reported when the wall clock budget is
// exhausted, matching the convention of coreutils timeout.
const ExitCodeTimeout = 124

// TimeoutSlackMS is added to the challenge time limit to absorb container
// and interpreter startup before the run is declared timed out.
const TimeoutSlackMS = 1000

// Runner executes one request in an isolated environment.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// workDir is the writable, exec-enabled directory the job runs in.
const workDir = "/workspace"

// containerScript builds the shell command that materializes the source and
// stdin files and then executes the job command. File content is base64
// encoded so arbitrary submissions cannot break out of the quoting.
func containerScript(req Request) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("cd %s", workDir))
	b.WriteString(fmt.Sprintf(" && echo '%s' | base64 -d > %s",
		base64.StdEncoding.EncodeToString([]byte(req.Code)), req.SourceFile))
	b.WriteString(fmt.Sprintf(" && echo '%s' | base64 -d > input.txt",
		base64.StdEncoding.EncodeToString([]byte(req.Stdin))))
	b.WriteString(" && ")
	b.WriteString(req.Command)
	return b.String()
}

// harnessMarkers identify diagnostic lines emitted by the container runtime
// or the script scaffolding rather than by the submitted program.
var harnessMarkers = []string{
	"Unable to find image",
	"Pulling from",
	"Pull complete",
	"Download complete",
	"Digest: sha256:",
	"Status: Downloaded",
	"Status: Image is up to date",
	"Files in",
	"---Running command---",
}

// FilterStderr removes container runtime noise from stderr, keeping only
// output produced by the submission itself.
func FilterStderr(stderr string) string {
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if isHarnessLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isHarnessLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, marker := range harnessMarkers {
		if strings.Contains(trimmed, marker) {
			return true
		}
	}
	// Directory listing noise from debug scaffolding.
	if strings.HasPrefix(trimmed, "total ") || strings.HasPrefix(trimmed, "drwx") || strings.HasPrefix(trimmed, "-rw-") {
		return true
	}
	return false
}
