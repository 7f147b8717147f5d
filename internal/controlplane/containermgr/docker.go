package containermgr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/haasonsaas/nexus/internal/backoff"
)

// dockerRetryPolicy backs off retries against a momentarily busy or
// restarting docker daemon. Commands that fail for a non-transient reason
// (bad args, missing image) fail the same way on every attempt, so the
// retry budget is small.
var dockerRetryPolicy = backoff.BackoffPolicy{InitialMs: 200, MaxMs: 2000, Factor: 2, Jitter: 0.2}

const dockerMaxAttempts = 3

// isTransientDockerError reports whether stderr looks like a daemon-level
// hiccup worth retrying rather than a command the daemon will reject again.
func isTransientDockerError(stderr string) bool {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "cannot connect to the docker daemon"):
		return true
	case strings.Contains(lower, "resource temporarily unavailable"):
		return true
	case strings.Contains(lower, "i/o timeout"):
		return true
	}
	return false
}

// DockerManager implements Manager by shelling out to the docker CLI, the
// same approach the original host-side manager used (docker run/stop/rm/cp)
// rather than binding the daemon's HTTP API directly.
type DockerManager struct {
	// NamePrefix is prepended to a sandbox id to form its container name,
	// keeping sandbox containers distinguishable from unrelated ones on a
	// shared host.
	NamePrefix string

	// Image is the default container image used for Create when CreateSpec
	// does not specify one.
	Image string

	// ContentContainer is the name of the always-running container that
	// holds the shared published-content volume used by publish/unpublish.
	ContentContainer string
}

// NewDockerManager returns a DockerManager with sensible defaults.
func NewDockerManager(image string) *DockerManager {
	return &DockerManager{
		NamePrefix:       "nexus-sandbox-",
		Image:            image,
		ContentContainer: "nexus_content",
	}
}

func (d *DockerManager) containerName(sandboxID string) string {
	return d.NamePrefix + sandboxID
}

func (d *DockerManager) run(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr string
	var runErr error

	for attempt := 1; attempt <= dockerMaxAttempts; attempt++ {
		cmd := exec.CommandContext(ctx, "docker", args...)
		var stdoutBuf, stderrBuf bytes.Buffer
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
		runErr = cmd.Run()
		stdout, stderr = stdoutBuf.String(), stderrBuf.String()

		if runErr == nil || attempt == dockerMaxAttempts || !isTransientDockerError(stderr) {
			break
		}
		if sleepErr := backoff.SleepWithBackoff(ctx, dockerRetryPolicy, attempt); sleepErr != nil {
			return stdout, stderr, sleepErr
		}
	}
	return stdout, stderr, runErr
}

func (d *DockerManager) Create(ctx context.Context, spec CreateSpec) error {
	image := spec.Image
	if image == "" {
		image = d.Image
	}
	name := d.containerName(spec.SandboxID)

	for kind, srcSandbox := range spec.CopyFrom {
		if err := d.CreateVolume(ctx, spec.SandboxID, kind); err != nil {
			return fmt.Errorf("create volume %s: %w", kind, err)
		}
		if srcSandbox != "" {
			srcVol := d.volumeName(srcSandbox, kind)
			dstVol := d.volumeName(spec.SandboxID, kind)
			if _, stderr, err := d.run(ctx, "run", "--rm",
				"-v", srcVol+":/from:ro", "-v", dstVol+":/to",
				"alpine", "sh", "-c", "cp -a /from/. /to/"); err != nil {
				return fmt.Errorf("seed volume %s from %s: %w (%s)", kind, srcSandbox, err, stderr)
			}
		}
	}
	for _, kind := range []VolumeKind{VolumeCode, VolumeData, VolumeSecrets, VolumeContent} {
		if _, ok := spec.CopyFrom[kind]; ok {
			continue
		}
		if err := d.CreateVolume(ctx, spec.SandboxID, kind); err != nil {
			return fmt.Errorf("create volume %s: %w", kind, err)
		}
	}

	args := []string{"create", "--name", name}
	for _, kind := range []VolumeKind{VolumeCode, VolumeData, VolumeSecrets, VolumeContent} {
		args = append(args, "-v", d.volumeName(spec.SandboxID, kind)+":/sandbox/"+string(kind))
	}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, image)

	if _, stderr, err := d.run(ctx, args...); err != nil {
		return fmt.Errorf("docker create: %w (%s)", err, stderr)
	}
	return nil
}

func (d *DockerManager) volumeName(sandboxID string, kind VolumeKind) string {
	return d.containerName(sandboxID) + "-" + string(kind)
}

func (d *DockerManager) Start(ctx context.Context, sandboxID string) error {
	_, stderr, err := d.run(ctx, "start", d.containerName(sandboxID))
	if err != nil {
		return fmt.Errorf("docker start: %w (%s)", err, stderr)
	}
	return nil
}

func (d *DockerManager) Stop(ctx context.Context, sandboxID string) error {
	_, stderr, err := d.run(ctx, "stop", d.containerName(sandboxID))
	if err != nil {
		return fmt.Errorf("docker stop: %w (%s)", err, stderr)
	}
	return nil
}

func (d *DockerManager) Remove(ctx context.Context, sandboxID string) error {
	_, stderr, err := d.run(ctx, "rm", "-f", d.containerName(sandboxID))
	if err != nil {
		return fmt.Errorf("docker rm: %w (%s)", err, stderr)
	}
	return nil
}

func (d *DockerManager) Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	args := append([]string{"exec", d.containerName(spec.SandboxID), spec.Command}, spec.Args...)
	stdout, stderr, err := d.run(ctx, args...)
	result := &ExecResult{Stdout: stdout, Stderr: stderr}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docker exec: %w", err)
	}
	return result, nil
}

// IsHealthy inspects the container's status. A docker CLI error (daemon
// unreachable, transport failure) returns HealthUnknown with the error so
// the reconciler's health scan does not mistake an unreachable daemon for
// an unhealthy sandbox. Only a definite "not running" status answers
// HealthUnhealthy.
func (d *DockerManager) IsHealthy(ctx context.Context, sandboxID string) (HealthStatus, error) {
	stdout, stderr, err := d.run(ctx, "inspect", "--format", "{{.State.Status}}", d.containerName(sandboxID))
	if err != nil {
		return HealthUnknown, fmt.Errorf("docker inspect: %w (%s)", err, stderr)
	}
	status := strings.TrimSpace(stdout)
	if status == "running" {
		return HealthHealthy, nil
	}
	return HealthUnhealthy, nil
}

func (d *DockerManager) CreateVolume(ctx context.Context, sandboxID string, kind VolumeKind) error {
	_, stderr, err := d.run(ctx, "volume", "create", d.volumeName(sandboxID, kind))
	if err != nil {
		return fmt.Errorf("docker volume create: %w (%s)", err, stderr)
	}
	return nil
}

func (d *DockerManager) RemoveVolume(ctx context.Context, sandboxID string, kind VolumeKind) error {
	_, stderr, err := d.run(ctx, "volume", "rm", "-f", d.volumeName(sandboxID, kind))
	if err != nil {
		return fmt.Errorf("docker volume rm: %w (%s)", err, stderr)
	}
	return nil
}

// CopyFrom copies srcPath out of the sandbox container to dstPath on the
// host — used by publish_sandbox to lift content into the shared content
// container.
func (d *DockerManager) CopyFrom(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	_, stderr, err := d.run(ctx, "cp", d.containerName(sandboxID)+":"+srcPath, dstPath)
	if err != nil {
		return fmt.Errorf("docker cp (from sandbox): %w (%s)", err, stderr)
	}
	return nil
}

// CopyTo copies srcPath on the host into the sandbox container at dstPath.
func (d *DockerManager) CopyTo(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	_, stderr, err := d.run(ctx, "cp", srcPath, d.containerName(sandboxID)+":"+dstPath)
	if err != nil {
		return fmt.Errorf("docker cp (to sandbox): %w (%s)", err, stderr)
	}
	return nil
}

var _ Manager = (*DockerManager)(nil)
