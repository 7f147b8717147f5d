package containermgr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"
)

// FirecrackerConfig names the host-side resources a FirecrackerManager needs
// to boot a microVM per sandbox.
type FirecrackerConfig struct {
	KernelImagePath string
	RootDrivePath   string
	SocketDir       string
	VCPUCount       int64
	MemSizeMiB      int64
}

// FirecrackerManager implements Manager by booting one Firecracker microVM
// per sandbox, using a dedicated root drive copy-on-write from RootDrivePath
// so each sandbox gets an isolated filesystem.
type FirecrackerManager struct {
	cfg FirecrackerConfig

	mu       sync.Mutex
	machines map[string]*firecracker.Machine
	cancels  map[string]context.CancelFunc
}

// NewFirecrackerManager constructs a FirecrackerManager from cfg.
func NewFirecrackerManager(cfg FirecrackerConfig) *FirecrackerManager {
	return &FirecrackerManager{
		cfg:      cfg,
		machines: make(map[string]*firecracker.Machine),
		cancels:  make(map[string]context.CancelFunc),
	}
}

func (f *FirecrackerManager) socketPath(sandboxID string) string {
	return filepath.Join(f.cfg.SocketDir, sandboxID+".sock")
}

func (f *FirecrackerManager) rootDrivePath(sandboxID string) string {
	return filepath.Join(f.cfg.SocketDir, sandboxID+"-rootfs.ext4")
}

func (f *FirecrackerManager) Create(ctx context.Context, spec CreateSpec) error {
	root := f.rootDrivePath(spec.SandboxID)
	if err := copyFile(f.cfg.RootDrivePath, root); err != nil {
		return fmt.Errorf("copy root drive: %w", err)
	}

	vcpu := f.cfg.VCPUCount
	if vcpu == 0 {
		vcpu = 2
	}
	mem := f.cfg.MemSizeMiB
	if mem == 0 {
		mem = 512
	}

	machineCfg := firecracker.Config{
		SocketPath:      f.socketPath(spec.SandboxID),
		KernelImagePath: f.cfg.KernelImagePath,
		Drives: []models.Drive{{
			DriveID:      firecracker.String("rootfs"),
			PathOnHost:   firecracker.String(root),
			IsRootDevice: firecracker.Bool(true),
			IsReadOnly:   firecracker.Bool(false),
		}},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(vcpu),
			MemSizeMib: firecracker.Int64(mem),
		},
	}

	machine, err := firecracker.NewMachine(ctx, machineCfg)
	if err != nil {
		return fmt.Errorf("new firecracker machine: %w", err)
	}

	f.mu.Lock()
	f.machines[spec.SandboxID] = machine
	f.mu.Unlock()
	return nil
}

func (f *FirecrackerManager) Start(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	machine, ok := f.machines[sandboxID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("firecracker machine %s not created", sandboxID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := machine.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start firecracker machine: %w", err)
	}

	f.mu.Lock()
	f.cancels[sandboxID] = cancel
	f.mu.Unlock()
	return nil
}

func (f *FirecrackerManager) Stop(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	machine, ok := f.machines[sandboxID]
	cancel := f.cancels[sandboxID]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("firecracker machine %s not created", sandboxID)
	}
	if err := machine.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown firecracker machine: %w", err)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func (f *FirecrackerManager) Remove(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	delete(f.machines, sandboxID)
	delete(f.cancels, sandboxID)
	f.mu.Unlock()

	_ = os.Remove(f.socketPath(sandboxID))
	if err := os.Remove(f.rootDrivePath(sandboxID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove root drive: %w", err)
	}
	return nil
}

// Exec is not supported directly over the Firecracker SDK's machine
// handle; the microVM exposes a guest agent over a vsock connection that
// the sandbox runtime layer dials instead. A control-plane Manager has no
// vsock client of its own, so Exec always errors here.
func (f *FirecrackerManager) Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	return nil, fmt.Errorf("firecracker: exec must go through the guest agent vsock connection, not the container manager")
}

func (f *FirecrackerManager) IsHealthy(ctx context.Context, sandboxID string) (HealthStatus, error) {
	f.mu.Lock()
	machine, ok := f.machines[sandboxID]
	f.mu.Unlock()
	if !ok {
		return HealthUnhealthy, nil
	}
	if machine.PID() <= 0 {
		return HealthUnknown, fmt.Errorf("firecracker machine %s has no pid yet", sandboxID)
	}
	proc, err := os.FindProcess(machine.PID())
	if err != nil {
		return HealthUnknown, err
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return HealthUnhealthy, nil
	}
	return HealthHealthy, nil
}

// CreateVolume and RemoveVolume are no-ops: a Firecracker sandbox's
// filesystem is the single root drive created in Create, with no separate
// per-kind volume concept.
func (f *FirecrackerManager) CreateVolume(ctx context.Context, sandboxID string, kind VolumeKind) error {
	return nil
}

func (f *FirecrackerManager) RemoveVolume(ctx context.Context, sandboxID string, kind VolumeKind) error {
	return nil
}

// CopyFrom and CopyTo are unsupported without a running guest agent to
// proxy file transfer into the microVM's filesystem; callers needing
// sandbox file access under this backend go through the guest agent
// directly rather than through the container manager.
func (f *FirecrackerManager) CopyFrom(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	return fmt.Errorf("firecracker: copy-from must go through the guest agent")
}

func (f *FirecrackerManager) CopyTo(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	return fmt.Errorf("firecracker: copy-to must go through the guest agent")
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Write(data)
	return os.WriteFile(dst, buf.Bytes(), 0o644)
}

var _ Manager = (*FirecrackerManager)(nil)
