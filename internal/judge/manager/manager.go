// Package manager supervises one worker process per language and restarts
// children that die unexpectedly.
package manager

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
)

const (
	// DefaultMonitorInterval is how often child liveness is checked.
	DefaultMonitorInterval = 5 * time.Second

	// DefaultGracePeriod is how long children get to exit after SIGTERM
	// before being killed.
	DefaultGracePeriod = 10 * time.Second
)

// Process is one live worker child.
type Process interface {
	// Done is closed when the process has exited.
	Done() <-chan struct{}

	// Err returns the exit error once Done is closed.
	Err() error

	Signal(sig os.Signal) error
	Kill() error
	PID() int
}

// Launcher starts a worker child for one language.
type Launcher interface {
	Launch(ctx context.Context, lang model.Language) (Process, error)
}

// ExecLauncher launches worker binaries as child processes, passing the
// language through the environment.
type ExecLauncher struct {
	// Binary is the worker executable path.
	Binary string

	// Args are passed verbatim to every child.
	Args []string

	// Env entries appended to the parent environment.
	Env []string
}

// Launch starts one child with WORKER_LANGUAGE set. The child inherits the
// supervisor's stdout and stderr so logs stay aggregated.
func (l *ExecLauncher) Launch(ctx context.Context, lang model.Language) (Process, error) {
	if l.Binary == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("worker binary is required")
	}
	cmd := exec.Command(l.Binary, l.Args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, "WORKER_LANGUAGE="+string(lang))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkerSpawnFailed, "start worker for %s failed", lang)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Done() <-chan struct{} { return p.done }
func (p *execProcess) Err() error            { return p.err }
func (p *execProcess) PID() int              { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// Config wires a manager.
type Config struct {
	Languages       []model.Language
	Launcher        Launcher
	MonitorInterval time.Duration
	GracePeriod     time.Duration
}

// Manager keeps one worker alive per configured language.
type Manager struct {
	languages       []model.Language
	launcher        Launcher
	monitorInterval time.Duration
	gracePeriod     time.Duration

	children map[model.Language]Process
	restarts map[model.Language]int
}

// New validates dependencies and creates a manager.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Languages) == 0 {
		cfg.Languages = model.Languages()
	}
	for _, lang := range cfg.Languages {
		if !lang.Valid() {
			return nil, appErr.New(appErr.WorkerLanguageError).
				WithDetail("language", string(lang))
		}
	}
	if cfg.Launcher == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("launcher is required")
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Manager{
		languages:       cfg.Languages,
		launcher:        cfg.Launcher,
		monitorInterval: cfg.MonitorInterval,
		gracePeriod:     cfg.GracePeriod,
		children:        make(map[model.Language]Process),
		restarts:        make(map[model.Language]int),
	}, nil
}

// Run starts one child per language and supervises them until ctx is
// cancelled, then shuts the children down gracefully.
func (m *Manager) Run(ctx context.Context) error {
	for _, lang := range m.languages {
		if err := m.launch(ctx, lang); err != nil {
			m.shutdown(ctx)
			return err
		}
	}

	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown(ctx)
			return ctx.Err()
		case <-ticker.C:
			m.reviveDead(ctx)
		}
	}
}

func (m *Manager) launch(ctx context.Context, lang model.Language) error {
	p, err := m.launcher.Launch(ctx, lang)
	if err != nil {
		return err
	}
	m.children[lang] = p
	logger.Info(ctx, "worker started",
		zap.String("language", string(lang)),
		zap.Int("pid", p.PID()),
		zap.Int("restarts", m.restarts[lang]))
	return nil
}

// reviveDead restarts every child that exited since the last check. A
// launch failure is logged and retried on the next tick.
func (m *Manager) reviveDead(ctx context.Context) {
	for _, lang := range m.languages {
		p, ok := m.children[lang]
		if ok && !exited(p) {
			continue
		}
		if ok {
			logger.Error(ctx, "worker died, restarting",
				zap.String("language", string(lang)),
				zap.Int("pid", p.PID()),
				zap.Error(p.Err()))
			delete(m.children, lang)
		}
		m.restarts[lang]++
		if err := m.launch(ctx, lang); err != nil {
			logger.Error(ctx, "worker restart failed",
				zap.String("language", string(lang)), zap.Error(err))
		}
	}
}

// shutdown terminates all children: SIGTERM, a grace period, then SIGKILL
// for anything still alive.
func (m *Manager) shutdown(ctx context.Context) {
	for lang, p := range m.children {
		if exited(p) {
			continue
		}
		if err := p.Signal(syscall.SIGTERM); err != nil {
			logger.Warn(ctx, "signal worker failed",
				zap.String("language", string(lang)), zap.Error(err))
		}
	}

	deadline := time.Now().Add(m.gracePeriod)
	for lang, p := range m.children {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		t := time.NewTimer(remaining)
		select {
		case <-p.Done():
			t.Stop()
		case <-t.C:
			logger.Warn(ctx, "worker ignored SIGTERM, killing",
				zap.String("language", string(lang)),
				zap.Int("pid", p.PID()))
			if err := p.Kill(); err != nil {
				logger.Error(ctx, "kill worker failed",
					zap.String("language", string(lang)), zap.Error(err))
			}
		}
	}
	logger.Info(ctx, "all workers stopped")
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
