package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const mountPoint = "/workspace"

// ContainerSpec describes one sandboxed process.
type ContainerSpec struct {
	Name        string
	Image       string
	Cmd         []string
	HostDir     string // bind-mounted read-write at /workspace
	User        string
	MemoryMb    int64
	CPUs        float64
	PidsLimit   int64
	TmpfsSizeMb int
	Stdin       bool
}

// ContainerState is the daemon's view of a finished container.
type ContainerState struct {
	OOMKilled  bool
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Error      string
}

// ContainerClient is the part of the Docker Engine API the runner drives.
type ContainerClient interface {
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	// Attach streams stdin into the container and demultiplexes its output.
	// The returned channel closes once both output streams are drained. It
	// must be called before Start so no early output is lost.
	Attach(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (<-chan struct{}, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int64, error)
	Kill(ctx context.Context, id string) error
	Inspect(ctx context.Context, id string) (ContainerState, error)
	Remove(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// EngineClient implements ContainerClient with the Docker Engine SDK.
type EngineClient struct {
	cli *client.Client
}

var _ ContainerClient = (*EngineClient)(nil)

// NewEngineClient connects to the daemon at host, or to the one named by
// DOCKER_HOST and friends when host is empty.
func NewEngineClient(host string) (*EngineClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client failed: %w", err)
	}
	return &EngineClient{cli: cli}, nil
}

func (e *EngineClient) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	mem := spec.MemoryMb << 20
	pids := spec.PidsLimit
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      mountPoint,
		User:            spec.User,
		AttachStdin:     spec.Stdin,
		OpenStdin:       spec.Stdin,
		StdinOnce:       spec.Stdin,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}
	host := &container.HostConfig{
		NetworkMode:    "none",
		Binds:          []string{spec.HostDir + ":" + mountPoint},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": fmt.Sprintf("rw,exec,nosuid,size=%dm", spec.TmpfsSizeMb)},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     mem,
			MemorySwap: mem,
			NanoCPUs:   int64(spec.CPUs * 1e9),
			PidsLimit:  &pids,
		},
	}
	resp, err := e.cli.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (e *EngineClient) Attach(ctx context.Context, id string, stdin io.Reader, stdout, stderr io.Writer) (<-chan struct{}, error) {
	resp, err := e.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  stdin != nil,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, err
	}
	if stdin != nil {
		go func() {
			_, _ = io.Copy(resp.Conn, stdin)
			// Half-close so the program sees EOF on stdin.
			_ = resp.CloseWrite()
		}()
	}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		defer resp.Close()
		_, _ = stdcopy.StdCopy(stdout, stderr, resp.Reader)
	}()
	return drained, nil
}

func (e *EngineClient) Start(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *EngineClient) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return st.StatusCode, errors.New(st.Error.Message)
		}
		return st.StatusCode, nil
	}
}

func (e *EngineClient) Kill(ctx context.Context, id string) error {
	return e.cli.ContainerKill(ctx, id, "KILL")
}

func (e *EngineClient) Inspect(ctx context.Context, id string) (ContainerState, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerState{}, err
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return ContainerState{}, fmt.Errorf("container %s reported no state", id)
	}
	st := ContainerState{
		OOMKilled: info.State.OOMKilled,
		ExitCode:  info.State.ExitCode,
		Error:     info.State.Error,
	}
	st.StartedAt, _ = time.Parse(time.RFC3339Nano, info.State.StartedAt)
	st.FinishedAt, _ = time.Parse(time.RFC3339Nano, info.State.FinishedAt)
	return st, nil
}

func (e *EngineClient) Remove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// Ping checks that the daemon answers.
func (e *EngineClient) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// Close releases the daemon connection.
func (e *EngineClient) Close() error {
	return e.cli.Close()
}
