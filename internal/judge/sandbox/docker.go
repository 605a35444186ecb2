package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"go.uber.org/zap"

	"codejudge/pkg/utils/logger"

	appErr "codejudge/pkg/errors"
)

// DockerConfig tunes the container isolation profile.
type DockerConfig struct {
	// NetworkMode for job containers. Defaults to "none"; anything else is
	// only meant for local debugging.
	NetworkMode string `yaml:"network_mode"`

	// PullImages enables pulling a missing image before the first run.
	PullImages bool `yaml:"pull_images"`

	// TmpfsSize limits the size of the writable mounts, e.g. "100m".
	TmpfsSize string `yaml:"tmpfs_size"`

	// OpenFileLimit caps open file descriptors inside the container.
	OpenFileLimit int64 `yaml:"open_file_limit"`
}

// DefaultDockerConfig returns the production isolation profile.
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		NetworkMode:   "none",
		PullImages:    true,
		TmpfsSize:     "100m",
		OpenFileLimit: 64,
	}
}

// DockerRunner executes requests in throwaway Docker containers. Each run
// creates a fresh container with no network, hard memory and CPU limits, and
// tmpfs-only writable storage, then force removes it.
type DockerRunner struct {
	cli *client.Client
	cfg DockerConfig
}

// NewDockerRunner connects to the local Docker daemon.
func NewDockerRunner(cfg DockerConfig) (*DockerRunner, error) {
	if cfg.NetworkMode == "" {
		cfg.NetworkMode = "none"
	}
	if cfg.TmpfsSize == "" {
		cfg.TmpfsSize = "100m"
	}
	if cfg.OpenFileLimit <= 0 {
		cfg.OpenFileLimit = 64
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxError, "create docker client failed")
	}
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// NewDockerRunnerWithClient wires an existing client, mainly for tests.
func NewDockerRunnerWithClient(cli *client.Client, cfg DockerConfig) (*DockerRunner, error) {
	if cli == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("docker client is required")
	}
	if cfg.NetworkMode == "" {
		cfg.NetworkMode = "none"
	}
	if cfg.TmpfsSize == "" {
		cfg.TmpfsSize = "100m"
	}
	if cfg.OpenFileLimit <= 0 {
		cfg.OpenFileLimit = 64
	}
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// Run executes one request in a new container and waits for it to finish or
// hit the wall clock budget. A timed out run reports ExitCodeTimeout with the
// request's time limit as the elapsed time; it is not an error.
func (r *DockerRunner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Image == "" {
		return Result{}, appErr.ValidationError("image", "required")
	}
	if req.Command == "" {
		return Result{}, appErr.ValidationError("command", "required")
	}
	if req.TimeLimitMS <= 0 {
		return Result{}, appErr.ValidationError("time_limit_ms", "must be positive")
	}
	if req.MemoryLimitMB <= 0 {
		return Result{}, appErr.ValidationError("memory_limit_mb", "must be positive")
	}

	budget := time.Duration(req.TimeLimitMS+TimeoutSlackMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	id, err := r.createContainer(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer r.removeContainer(id)

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SandboxStartFailed, "start container failed")
	}

	statusCh, errCh := r.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		elapsed := time.Since(start).Milliseconds()
		stdout, stderr := r.collectOutput(ctx, id)
		if status.Error != nil && status.Error.Message != "" {
			return Result{}, appErr.New(appErr.SandboxError).WithMessage(status.Error.Message)
		}
		return Result{
			Stdout:   stdout,
			Stderr:   FilterStderr(stderr),
			ExitCode: int(status.StatusCode),
			TimeMS:   elapsed,
			MemoryMB: req.MemoryLimitMB,
		}, nil
	case err := <-errCh:
		if runCtx.Err() != nil {
			return r.timeoutResult(ctx, id, req), nil
		}
		return Result{}, appErr.Wrapf(err, appErr.SandboxError, "wait for container failed")
	case <-runCtx.Done():
		return r.timeoutResult(ctx, id, req), nil
	}
}

func (r *DockerRunner) createContainer(ctx context.Context, req Request) (string, error) {
	config := &container.Config{
		Image:           req.Image,
		Cmd:             []string{"sh", "-c", containerScript(req)},
		WorkingDir:      workDir,
		NetworkDisabled: r.cfg.NetworkMode == "none",
	}
	hostConfig := buildHostConfig(r.cfg, req)

	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err == nil {
		return resp.ID, nil
	}
	if !errdefs.IsNotFound(err) || !r.cfg.PullImages {
		if errdefs.IsNotFound(err) {
			return "", appErr.Wrapf(err, appErr.SandboxImageMissing, "image %s not available", req.Image)
		}
		return "", appErr.Wrapf(err, appErr.SandboxError, "create container failed")
	}

	if err := r.pullImage(ctx, req.Image); err != nil {
		return "", err
	}
	resp, err = r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxError, "create container failed")
	}
	return resp.ID, nil
}

// buildHostConfig assembles the isolation profile: read-only rootfs with the
// two tmpfs mounts as the only writable paths, no swap, one CPU, capped file
// descriptors.
func buildHostConfig(cfg DockerConfig, req Request) *container.HostConfig {
	memoryBytes := req.MemoryLimitMB * 1024 * 1024
	return &container.HostConfig{
		NetworkMode:    container.NetworkMode(cfg.NetworkMode),
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges:true"},
		Tmpfs: map[string]string{
			"/tmp":  "rw,noexec,nosuid,size=" + cfg.TmpfsSize,
			workDir: "rw,exec,nosuid,size=" + cfg.TmpfsSize,
		},
		Resources: container.Resources{
			// Swap pinned to the memory limit disables swapping entirely.
			Memory:     memoryBytes,
			MemorySwap: memoryBytes,
			NanoCPUs:   1_000_000_000,
			Ulimits: []*units.Ulimit{
				{Name: "nofile", Soft: cfg.OpenFileLimit, Hard: cfg.OpenFileLimit},
			},
		},
	}
}

func (r *DockerRunner) pullImage(ctx context.Context, ref string) error {
	logger.Info(ctx, "pulling sandbox image", zap.String("image", ref))
	rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxImageMissing, "pull image %s failed", ref)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return appErr.Wrapf(err, appErr.SandboxImageMissing, "pull image %s failed", ref)
	}
	return nil
}

// timeoutResult kills the container and reports the coreutils timeout
// convention so callers classify the run as exceeding the time limit.
func (r *DockerRunner) timeoutResult(ctx context.Context, id string, req Request) Result {
	if err := r.cli.ContainerKill(ctx, id, "KILL"); err != nil && !errdefs.IsNotFound(err) {
		logger.Warn(ctx, "kill timed out container failed",
			zap.String("container_id", id), zap.Error(err))
	}
	return Result{
		Stderr:   fmt.Sprintf("timeout: exceeded %dms", req.TimeLimitMS),
		ExitCode: ExitCodeTimeout,
		TimeMS:   req.TimeLimitMS,
		MemoryMB: req.MemoryLimitMB,
	}
}

func (r *DockerRunner) collectOutput(ctx context.Context, id string) (string, string) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		logger.Warn(ctx, "collect container logs failed",
			zap.String("container_id", id), zap.Error(err))
		return "", ""
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		logger.Warn(ctx, "demux container logs failed",
			zap.String("container_id", id), zap.Error(err))
	}
	return stdout.String(), stderr.String()
}

// removeContainer force removes with a fresh context so cleanup still runs
// when the request context is already done.
func (r *DockerRunner) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		logger.Warn(ctx, "remove container failed",
			zap.String("container_id", id), zap.Error(err))
	}
}

// Ping verifies the Docker daemon is reachable.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return appErr.Wrapf(err, appErr.SandboxError, "docker ping failed")
	}
	return nil
}

// Close releases the underlying client connection.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

var _ Runner = (*DockerRunner)(nil)
