package containermgr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	apiclient "github.com/daytonaio/daytona/libs/api-client-go"
	toolbox "github.com/daytonaio/daytona/libs/toolbox-api-client-go"
)

// DaytonaConfig holds the settings needed to reach a Daytona control plane.
// Values fall back through several environment variable names, mirroring
// how the original sandbox executor resolved its configuration.
type DaytonaConfig struct {
	APIKey         string
	JWTToken       string
	OrganizationID string
	APIURL         string
	Target         string
	Snapshot       string
	Image          string
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

// ResolveDaytonaConfig fills in any empty fields of cfg from environment
// variables and validates that at least one credential is present.
func ResolveDaytonaConfig(cfg DaytonaConfig) (*DaytonaConfig, error) {
	resolved := cfg
	if resolved.APIKey == "" {
		resolved.APIKey = firstEnv("DAYTONA_API_KEY")
	}
	if resolved.JWTToken == "" {
		resolved.JWTToken = firstEnv("DAYTONA_JWT_TOKEN")
	}
	if resolved.OrganizationID == "" {
		resolved.OrganizationID = firstEnv("DAYTONA_ORGANIZATION_ID")
	}
	if resolved.APIURL == "" {
		resolved.APIURL = firstEnv("DAYTONA_API_URL", "DAYTONA_SERVER_URL")
	}
	if resolved.Target == "" {
		resolved.Target = firstEnv("DAYTONA_TARGET")
	}
	if resolved.APIURL == "" {
		resolved.APIURL = "https://app.daytona.io/api"
	}
	if resolved.APIKey == "" && resolved.JWTToken == "" {
		return nil, errors.New("daytona api key or jwt token is required")
	}
	if resolved.JWTToken != "" && resolved.OrganizationID == "" {
		return nil, errors.New("daytona organization id is required when using a jwt token")
	}
	return &resolved, nil
}

const daytonaSourceHeader = "nexus-control-plane"

// DaytonaManager implements Manager against a remote Daytona control plane,
// running each sandbox as a hosted Daytona sandbox rather than a local
// container, and driving command execution through its toolbox API.
type DaytonaManager struct {
	cfg        *DaytonaConfig
	apiClient  *apiclient.APIClient
	httpClient *http.Client

	proxyMu    sync.Mutex
	proxyCache map[string]string
}

// NewDaytonaManager constructs a DaytonaManager from a resolved config.
func NewDaytonaManager(cfg *DaytonaConfig) (*DaytonaManager, error) {
	if cfg == nil {
		return nil, errors.New("daytona config is required")
	}

	apiCfg := apiclient.NewConfiguration()
	apiCfg.Servers = apiclient.ServerConfigurations{{URL: cfg.APIURL}}
	apiCfg.HTTPClient = &http.Client{}
	apiCfg.AddDefaultHeader("X-Daytona-Source", daytonaSourceHeader)
	if cfg.JWTToken != "" && cfg.OrganizationID != "" {
		apiCfg.AddDefaultHeader("X-Daytona-Organization-ID", cfg.OrganizationID)
	}

	return &DaytonaManager{
		cfg:        cfg,
		apiClient:  apiclient.NewAPIClient(apiCfg),
		httpClient: apiCfg.HTTPClient,
		proxyCache: make(map[string]string),
	}, nil
}

func (d *DaytonaManager) authContext(ctx context.Context) context.Context {
	token := d.cfg.APIKey
	if token == "" {
		token = d.cfg.JWTToken
	}
	return context.WithValue(ctx, apiclient.ContextAccessToken, token)
}

func (d *DaytonaManager) Create(ctx context.Context, spec CreateSpec) error {
	image := spec.Image
	if image == "" {
		image = d.cfg.Image
	}
	create := apiclient.NewCreateSandbox()
	create.SetTarget(d.cfg.Target)
	if image != "" {
		create.SetImage(image)
	}
	if d.cfg.Snapshot != "" {
		create.SetSnapshot(d.cfg.Snapshot)
	}
	labels := map[string]string{"nexus.sandbox_id": spec.SandboxID}
	create.SetLabels(labels)
	if len(spec.Env) > 0 {
		create.SetEnv(spec.Env)
	}

	_, httpResp, err := d.apiClient.SandboxAPI.CreateSandbox(d.authContext(ctx)).CreateSandbox(*create).Execute()
	if err != nil {
		return fmt.Errorf("daytona create sandbox: %w", formatAPIError(err, httpResp))
	}
	return nil
}

func (d *DaytonaManager) Start(ctx context.Context, sandboxID string) error {
	_, httpResp, err := d.apiClient.SandboxAPI.StartSandbox(d.authContext(ctx), sandboxID).Execute()
	if err != nil {
		return fmt.Errorf("daytona start sandbox: %w", formatAPIError(err, httpResp))
	}
	return nil
}

func (d *DaytonaManager) Stop(ctx context.Context, sandboxID string) error {
	_, httpResp, err := d.apiClient.SandboxAPI.StopSandbox(d.authContext(ctx), sandboxID).Execute()
	if err != nil {
		return fmt.Errorf("daytona stop sandbox: %w", formatAPIError(err, httpResp))
	}
	return nil
}

func (d *DaytonaManager) Remove(ctx context.Context, sandboxID string) error {
	httpResp, err := d.apiClient.SandboxAPI.DeleteSandbox(d.authContext(ctx), sandboxID).Execute()
	if err != nil {
		return fmt.Errorf("daytona delete sandbox: %w", formatAPIError(err, httpResp))
	}
	d.proxyMu.Lock()
	delete(d.proxyCache, sandboxID)
	d.proxyMu.Unlock()
	return nil
}

func (d *DaytonaManager) toolboxClient(ctx context.Context, sandboxID string) (*toolbox.APIClient, error) {
	proxyURL, err := d.getToolboxProxyURL(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	cfg := toolbox.NewConfiguration()
	cfg.Servers = toolbox.ServerConfigurations{{URL: fmt.Sprintf("%s/%s", strings.TrimRight(proxyURL, "/"), sandboxID)}}
	cfg.HTTPClient = d.httpClient
	token := d.cfg.APIKey
	if token == "" {
		token = d.cfg.JWTToken
	}
	cfg.AddDefaultHeader("Authorization", "Bearer "+token)
	cfg.AddDefaultHeader("X-Daytona-Source", daytonaSourceHeader)
	return toolbox.NewAPIClient(cfg), nil
}

func (d *DaytonaManager) getToolboxProxyURL(ctx context.Context, sandboxID string) (string, error) {
	d.proxyMu.Lock()
	if cached, ok := d.proxyCache[sandboxID]; ok {
		d.proxyMu.Unlock()
		return cached, nil
	}
	d.proxyMu.Unlock()

	result, httpResp, err := d.apiClient.SandboxAPI.GetToolboxProxyUrl(d.authContext(ctx), sandboxID).Execute()
	if err != nil {
		return "", fmt.Errorf("get toolbox proxy url: %w", formatAPIError(err, httpResp))
	}
	proxyURL := strings.TrimRight(result.GetUrl(), "/")
	d.proxyMu.Lock()
	d.proxyCache[sandboxID] = proxyURL
	d.proxyMu.Unlock()
	return proxyURL, nil
}

func (d *DaytonaManager) Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	tc, err := d.toolboxClient(ctx, spec.SandboxID)
	if err != nil {
		return nil, err
	}
	command := strings.TrimSpace(spec.Command + " " + strings.Join(spec.Args, " "))
	req := toolbox.NewExecuteRequest(command)
	resp, httpResp, err := tc.ProcessAPI.ExecuteCommand(ctx).Request(*req).Execute()
	if err != nil {
		return nil, fmt.Errorf("daytona execute command: %w", formatToolboxError(err, httpResp))
	}
	exitCode := 0
	if resp.ExitCode != nil {
		exitCode = int(*resp.ExitCode)
	}
	return &ExecResult{Stdout: resp.Result, ExitCode: exitCode}, nil
}

// IsHealthy maps a Daytona sandbox state to a HealthStatus. A lookup error
// (network, auth, or a transient control-plane error) returns HealthUnknown
// rather than HealthUnhealthy so a control-plane blip never forces a
// sandbox to sleep.
func (d *DaytonaManager) IsHealthy(ctx context.Context, sandboxID string) (HealthStatus, error) {
	sb, httpResp, err := d.apiClient.SandboxAPI.GetSandbox(d.authContext(ctx), sandboxID).Execute()
	if err != nil {
		return HealthUnknown, fmt.Errorf("daytona get sandbox: %w", formatAPIError(err, httpResp))
	}
	switch sb.GetState() {
	case apiclient.SANDBOXSTATE_STARTED:
		return HealthHealthy, nil
	case apiclient.SANDBOXSTATE_ERROR, apiclient.SANDBOXSTATE_BUILD_FAILED:
		return HealthUnhealthy, nil
	default:
		return HealthUnknown, nil
	}
}

// CreateVolume and RemoveVolume are no-ops: Daytona sandboxes carry their
// own persistent filesystem per sandbox id, with no separate volume
// lifecycle to manage.
func (d *DaytonaManager) CreateVolume(ctx context.Context, sandboxID string, kind VolumeKind) error {
	return nil
}

func (d *DaytonaManager) RemoveVolume(ctx context.Context, sandboxID string, kind VolumeKind) error {
	return nil
}

func (d *DaytonaManager) CopyFrom(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	tc, err := d.toolboxClient(ctx, sandboxID)
	if err != nil {
		return err
	}
	data, httpResp, err := tc.FsAPI.DownloadFile(ctx).Path(srcPath).Execute()
	if err != nil {
		return fmt.Errorf("daytona download file: %w", formatToolboxError(err, httpResp))
	}
	return writeLocalFile(dstPath, data)
}

func (d *DaytonaManager) CopyTo(ctx context.Context, sandboxID, srcPath, dstPath string) error {
	tc, err := d.toolboxClient(ctx, sandboxID)
	if err != nil {
		return err
	}
	data, err := readLocalFile(srcPath)
	if err != nil {
		return err
	}
	_, httpResp, err := tc.FsAPI.UploadFile(ctx).Path(dstPath).File(data).Execute()
	if err != nil {
		return fmt.Errorf("daytona upload file: %w", formatToolboxError(err, httpResp))
	}
	return nil
}

func writeLocalFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func readLocalFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func formatAPIError(err error, resp *http.Response) error {
	if resp != nil {
		return fmt.Errorf("%w (status %s)", err, resp.Status)
	}
	return err
}

func formatToolboxError(err error, resp *http.Response) error {
	return formatAPIError(err, resp)
}

var _ Manager = (*DaytonaManager)(nil)
