package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"judgeline/internal/judge/language"
	"judgeline/internal/judge/model"
	"judgeline/internal/judge/sandbox/observer"
	"judgeline/internal/judge/sandbox/result"
	"judgeline/internal/judge/workspace"
	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// DockerConfig controls how containers are launched on the Docker daemon.
type DockerConfig struct {
	// Host overrides DOCKER_HOST, e.g. unix:///run/docker.sock.
	Host             string        `yaml:"host"`
	User             string        `yaml:"user"`
	PidsLimit        int64         `yaml:"pidsLimit"`
	TmpfsSizeMb      int           `yaml:"tmpfsSizeMb"`
	Grace            time.Duration `yaml:"grace"`
	SupervisorMargin time.Duration `yaml:"supervisorMargin"`
	CompileTimeout   time.Duration `yaml:"compileTimeout"`
	CompileMemoryMb  int64         `yaml:"compileMemoryMb"`
	CompileCPULimit  float64       `yaml:"compileCpuLimit"`
	CompilePidsLimit int64         `yaml:"compilePidsLimit"`
	// OutputLimitBytes is the minimum capture per stream. Stdout capture
	// grows with the expected answer.
	OutputLimitBytes int           `yaml:"outputLimitBytes"`
	ControlTimeout   time.Duration `yaml:"controlTimeout"`
}

func (c *DockerConfig) setDefaults() {
	if c.User == "" {
		c.User = "65534:65534"
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = 64
	}
	if c.TmpfsSizeMb <= 0 {
		c.TmpfsSizeMb = 64
	}
	if c.Grace <= 0 {
		c.Grace = 2 * time.Second
	}
	if c.SupervisorMargin <= 0 {
		c.SupervisorMargin = time.Second
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = 30 * time.Second
	}
	if c.CompileMemoryMb <= 0 {
		c.CompileMemoryMb = 1024
	}
	if c.CompileCPULimit <= 0 {
		c.CompileCPULimit = 2
	}
	if c.CompilePidsLimit <= 0 {
		c.CompilePidsLimit = 256
	}
	if c.OutputLimitBytes <= 0 {
		c.OutputLimitBytes = 64 << 10
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = 10 * time.Second
	}
}

// DockerRunner implements SandboxRunner on a ContainerClient.
type DockerRunner struct {
	cfg      DockerConfig
	client   ContainerClient
	metrics  observer.MetricsRecorder
	inflight *xsync.MapOf[string, string] // container id -> name
	seq      atomic.Uint64
}

var _ SandboxRunner = (*DockerRunner)(nil)

// NewDockerRunner creates a runner. A nil recorder disables metrics.
func NewDockerRunner(cfg DockerConfig, client ContainerClient, metrics observer.MetricsRecorder) *DockerRunner {
	cfg.setDefaults()
	if metrics == nil {
		metrics = observer.Nop{}
	}
	return &DockerRunner{
		cfg:      cfg,
		client:   client,
		metrics:  metrics,
		inflight: xsync.NewMapOf[string, string](),
	}
}

// Compile builds the workspace source. Interpreted languages are a no-op.
func (r *DockerRunner) Compile(ctx context.Context, ws *workspace.Workspace, lang language.Language) error {
	cmdArgs, err := lang.CompileArgs()
	if err != nil {
		return err
	}
	if cmdArgs == nil {
		return nil
	}

	spec := r.spec(ws, lang.Image, cmdArgs, r.cfg.CompileMemoryMb, r.cfg.CompileCPULimit, r.cfg.CompilePidsLimit)
	out, err := r.run(ctx, spec, nil, r.cfg.CompileTimeout, r.cfg.OutputLimitBytes)
	if err != nil {
		r.metrics.ObserveSandboxError("compile")
		return err
	}
	if err := out.runtimeFailure(); err != nil {
		r.metrics.ObserveSandboxError("compile")
		logger.Warn(ctx, "compile container failed", zap.String("container", spec.Name), zap.Error(err))
		return err
	}

	exitCode := out.exitCode()
	ok := !out.supervisorFired && exitCode == 0
	r.metrics.ObserveCompile(lang.ID, ok, out.duration())
	switch {
	case out.supervisorFired:
		return &CompileError{
			Output:   fmt.Sprintf("compilation exceeded %s", r.cfg.CompileTimeout),
			ExitCode: exitCode,
			TimedOut: true,
		}
	case exitCode != 0:
		diag := out.stderr
		if strings.TrimSpace(diag) == "" {
			diag = out.stdout
		}
		return &CompileError{Output: diag, ExitCode: exitCode}
	}
	return nil
}

// Execute runs the built program once on tc's input under limits.
func (r *DockerRunner) Execute(ctx context.Context, ws *workspace.Workspace, lang language.Language, tc model.Testcase, limits model.Constraints) (result.ExecutionResult, error) {
	if limits.TimeLimitMs <= 0 || limits.MemoryLimitMb <= 0 || limits.CPULimit <= 0 {
		return result.ExecutionResult{}, appErr.ValidationError("constraints", "limits must be positive")
	}
	cmdArgs, err := lang.RunArgs()
	if err != nil {
		return result.ExecutionResult{}, err
	}
	if err := ws.Write(InputFile, []byte(tc.Input)); err != nil {
		return result.ExecutionResult{}, err
	}
	inputPath, err := ws.Path(InputFile)
	if err != nil {
		return result.ExecutionResult{}, err
	}
	stdin, err := os.Open(inputPath)
	if err != nil {
		return result.ExecutionResult{}, appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "open input failed")
	}
	defer stdin.Close()

	limit := time.Duration(limits.TimeLimitMs) * time.Millisecond
	cmd := append([]string{"timeout", "-s", "KILL", formatSeconds(limit + r.cfg.Grace)}, cmdArgs...)
	spec := r.spec(ws, lang.Image, cmd, limits.MemoryLimitMb, limits.CPULimit, r.cfg.PidsLimit)
	spec.Stdin = true

	out, err := r.run(ctx, spec, stdin, limit+r.cfg.Grace+r.cfg.SupervisorMargin,
		captureLimit(r.cfg.OutputLimitBytes, tc.ExpectedOutput))
	if err != nil {
		r.metrics.ObserveSandboxError("run")
		return result.ExecutionResult{}, err
	}
	if err := out.runtimeFailure(); err != nil {
		r.metrics.ObserveSandboxError("run")
		logger.Warn(ctx, "run container failed", zap.String("container", spec.Name), zap.Error(err))
		return result.ExecutionResult{}, err
	}

	exitCode := out.exitCode()
	elapsed := out.duration()
	outcome := Classify(Signals{
		ExitCode:          exitCode,
		Signal:            signalFromExit(exitCode),
		OOMKilled:         out.state.OOMKilled,
		WallClockExceeded: wallClockExceeded(out.supervisorFired, exitCode, elapsed.Milliseconds(), limits.TimeLimitMs),
	})
	r.metrics.ObserveRun(lang.ID, string(outcome), elapsed)
	if out.truncated {
		logger.Info(ctx, "program output exceeded capture", zap.String("container", spec.Name), zap.Int("captured_bytes", len(out.stdout)))
	}

	return result.ExecutionResult{
		Stdout:          out.stdout,
		Stderr:          out.stderr,
		OutputTruncated: out.truncated,
		DurationMs:      elapsed.Milliseconds(),
		ExitCode:        exitCode,
		Outcome:         outcome,
	}, nil
}

// KillAll kills every container still running, used on shutdown.
func (r *DockerRunner) KillAll(ctx context.Context) int {
	killed := 0
	r.inflight.Range(func(id, name string) bool {
		r.kill(ctx, id, name)
		killed++
		return true
	})
	return killed
}

// InFlight reports the number of live containers.
func (r *DockerRunner) InFlight() int {
	return r.inflight.Size()
}

// Ping checks that the daemon answers, for /healthz.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx); err != nil {
		return appErr.Wrapf(err, appErr.SandboxUnavailable, "docker daemon unreachable")
	}
	return nil
}

func (r *DockerRunner) spec(ws *workspace.Workspace, image string, cmd []string, memoryMb int64, cpus float64, pids int64) ContainerSpec {
	return ContainerSpec{
		Name:        fmt.Sprintf("judgeline-%s-%d", ws.ID, r.seq.Add(1)),
		Image:       image,
		Cmd:         cmd,
		HostDir:     ws.Dir,
		User:        r.cfg.User,
		MemoryMb:    memoryMb,
		CPUs:        cpus,
		PidsLimit:   pids,
		TmpfsSizeMb: r.cfg.TmpfsSizeMb,
	}
}

type runOutput struct {
	waitExitCode    int
	stdout          string
	stderr          string
	truncated       bool
	elapsed         time.Duration
	supervisorFired bool
	state           ContainerState
	inspectErr      error
}

// exitCode prefers the inspected state over the wait status.
func (o runOutput) exitCode() int {
	if o.inspectErr == nil {
		return o.state.ExitCode
	}
	return o.waitExitCode
}

// duration prefers the container's start/finish timestamps, which exclude
// daemon overhead, over host wall clock.
func (o runOutput) duration() time.Duration {
	if o.inspectErr == nil && !o.state.StartedAt.IsZero() && o.state.FinishedAt.After(o.state.StartedAt) {
		return o.state.FinishedAt.Sub(o.state.StartedAt)
	}
	return o.elapsed
}

// runtimeFailure reports container runtime faults that must not be judged.
func (o runOutput) runtimeFailure() error {
	switch {
	case o.inspectErr != nil:
		return appErr.Wrapf(o.inspectErr, appErr.SandboxUnavailable, "inspect container failed")
	case o.state.Error != "":
		return appErr.Newf(appErr.SandboxUnavailable, "container runtime error: %s", o.state.Error)
	}
	return nil
}

type waitResult struct {
	code int64
	err  error
}

// run launches one container under the outer supervisor. Once timeout fires
// the container is killed through the daemon, so a program that ignores its
// inner timeout cannot outlive it. Daemon calls run detached from ctx since
// cleanup must still happen when the attempt itself was canceled.
func (r *DockerRunner) run(ctx context.Context, spec ContainerSpec, stdin io.Reader, timeout time.Duration, stdoutLimit int) (runOutput, error) {
	ctrl := context.WithoutCancel(ctx)

	createCtx, cancelCreate := context.WithTimeout(ctrl, r.cfg.ControlTimeout)
	id, err := r.client.Create(createCtx, spec)
	cancelCreate()
	if err != nil {
		return runOutput{}, appErr.Wrapf(err, appErr.SandboxUnavailable, "create container %s failed", spec.Image)
	}
	r.inflight.Store(id, spec.Name)
	defer r.inflight.Delete(id)
	defer r.remove(ctx, id, spec.Name)

	stdout := newBoundedBuffer(stdoutLimit)
	stderr := newBoundedBuffer(r.cfg.OutputLimitBytes)
	drained, err := r.client.Attach(ctrl, id, stdin, stdout, stderr)
	if err != nil {
		return runOutput{}, appErr.Wrapf(err, appErr.SandboxUnavailable, "attach container failed")
	}

	superCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	startCtx, cancelStart := context.WithTimeout(ctrl, r.cfg.ControlTimeout)
	err = r.client.Start(startCtx, id)
	cancelStart()
	if err != nil {
		return runOutput{}, appErr.Wrapf(err, appErr.SandboxUnavailable, "start container failed")
	}

	waitCh := make(chan waitResult, 1)
	go func() {
		code, err := r.client.Wait(ctrl, id)
		waitCh <- waitResult{code: code, err: err}
	}()

	fired := false
	var wr waitResult
	select {
	case wr = <-waitCh:
	case <-superCtx.Done():
		fired = ctx.Err() == nil
		r.kill(ctx, id, spec.Name)
		select {
		case wr = <-waitCh:
		case <-time.After(r.cfg.ControlTimeout):
			return runOutput{}, appErr.Newf(appErr.SandboxUnavailable, "container %s did not stop after kill", spec.Name)
		}
	}
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		// Parent canceled: shutdown, not a judging outcome.
		return runOutput{}, appErr.Wrapf(ctx.Err(), appErr.SandboxUnavailable, "container run canceled")
	}
	if wr.err != nil {
		return runOutput{}, appErr.Wrapf(wr.err, appErr.SandboxUnavailable, "wait container failed")
	}

	select {
	case <-drained:
	case <-time.After(r.cfg.ControlTimeout):
		logger.Warn(ctx, "container output stream did not close", zap.String("container", spec.Name))
	}

	out := runOutput{
		waitExitCode:    int(wr.code),
		stdout:          stdout.String(),
		stderr:          stderr.String(),
		truncated:       stdout.Truncated(),
		elapsed:         elapsed,
		supervisorFired: fired,
	}
	inspectCtx, cancelInspect := context.WithTimeout(ctrl, r.cfg.ControlTimeout)
	out.state, out.inspectErr = r.client.Inspect(inspectCtx, id)
	cancelInspect()
	return out, nil
}

func (r *DockerRunner) kill(ctx context.Context, id, name string) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ControlTimeout)
	defer cancel()
	if err := r.client.Kill(killCtx, id); err != nil {
		logger.Debug(ctx, "kill container failed", zap.String("container", name), zap.Error(err))
	}
}

func (r *DockerRunner) remove(ctx context.Context, id, name string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ControlTimeout)
	defer cancel()
	if err := r.client.Remove(rmCtx, id); err != nil {
		logger.Warn(ctx, "remove container failed", zap.String("container", name), zap.Error(err))
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
