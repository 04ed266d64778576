package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
)

// DevSandboxID names the shared sandbox used when a fixed address is
// configured instead of per-session containers.
const DevSandboxID = "dev-sandbox"

// DockerConfig configures the Docker-backed sandbox manager.
type DockerConfig struct {
	// Address, when set, points at an already-running sandbox and disables
	// container management entirely. Used for local development.
	Address string

	Image      string
	NamePrefix string
	Network    string
	TTLMinutes int
	ChromeArgs string
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DockerManager runs one sandbox container per session.
type DockerManager struct {
	cfg    DockerConfig
	cli    client.APIClient
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Sandbox
}

// NewDockerManager creates the manager. The Docker daemon is only
// contacted when no fixed sandbox address is configured.
func NewDockerManager(cfg DockerConfig, logger *slog.Logger) (*DockerManager, error) {
	m := &DockerManager{cfg: cfg, logger: logger, cache: make(map[string]Sandbox)}
	if cfg.Address == "" {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("creating docker client: %w", err)
		}
		m.cli = cli
	}
	return m, nil
}

// Create starts a new sandbox container and waits for its IP. In fixed
// address mode it returns the shared development sandbox.
func (m *DockerManager) Create(ctx context.Context) (Sandbox, error) {
	if m.cfg.Address != "" {
		ip, err := resolveIP(ctx, m.cfg.Address)
		if err != nil {
			return nil, err
		}
		return newAPISandbox(DevSandboxID, ip), nil
	}

	name := fmt.Sprintf("%s-%s", m.cfg.NamePrefix, uuid.NewString()[:8])
	config := &container.Config{
		Image: m.cfg.Image,
		Env: []string{
			fmt.Sprintf("SERVICE_TIMEOUT_MINUTES=%d", m.cfg.TTLMinutes),
			"CHROME_ARGS=" + m.cfg.ChromeArgs,
			"HTTP_PROXY=" + m.cfg.HTTPProxy,
			"HTTPS_PROXY=" + m.cfg.HTTPSProxy,
			"NO_PROXY=" + m.cfg.NoProxy,
		},
		ExposedPorts: nat.PortSet{
			"8080/tcp": struct{}{},
			"5901/tcp": struct{}{},
			"9222/tcp": struct{}{},
		},
	}
	hostConfig := &container.HostConfig{AutoRemove: true}
	if m.cfg.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(m.cfg.Network)
	}

	created, err := m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox container %s: %w", name, err)
	}
	if err := m.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = m.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("starting sandbox container %s: %w", name, err)
	}

	ip, err := m.containerIP(ctx, created.ID)
	if err != nil {
		_ = m.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, err
	}

	sb := newAPISandbox(name, ip)
	m.mu.Lock()
	m.cache[name] = sb
	m.mu.Unlock()

	m.logger.Info("sandbox created", "sandbox_id", name, "ip", ip)
	return sb, nil
}

// Get returns the sandbox with the given ID, looking up the container when
// it is not cached.
func (m *DockerManager) Get(ctx context.Context, id string) (Sandbox, error) {
	if m.cfg.Address != "" {
		ip, err := resolveIP(ctx, m.cfg.Address)
		if err != nil {
			return nil, err
		}
		return newAPISandbox(id, ip), nil
	}

	m.mu.Lock()
	if sb, ok := m.cache[id]; ok {
		m.mu.Unlock()
		return sb, nil
	}
	m.mu.Unlock()

	ip, err := m.containerIP(ctx, id)
	if err != nil {
		return nil, err
	}
	sb := newAPISandbox(id, ip)
	m.mu.Lock()
	m.cache[id] = sb
	m.mu.Unlock()
	return sb, nil
}

// Destroy force-removes the sandbox container.
func (m *DockerManager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()

	if m.cfg.Address != "" {
		return nil
	}
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			// Self-terminated containers are already gone.
			return nil
		}
		return fmt.Errorf("removing sandbox container %s: %w", id, err)
	}
	m.logger.Info("sandbox destroyed", "sandbox_id", id)
	return nil
}

// containerIP inspects a container and returns its first usable IP.
func (m *DockerManager) containerIP(ctx context.Context, id string) (string, error) {
	inspect, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inspecting sandbox container %s: %w", id, err)
	}
	if inspect.NetworkSettings == nil {
		return "", fmt.Errorf("sandbox container %s has no network settings", id)
	}
	if ip := inspect.NetworkSettings.IPAddress; ip != "" {
		return ip, nil
	}
	for _, nw := range inspect.NetworkSettings.Networks {
		if nw != nil && nw.IPAddress != "" {
			return nw.IPAddress, nil
		}
	}
	return "", fmt.Errorf("sandbox container %s has no IP address", id)
}

// resolveIP resolves an address to an IPv4 string. Chrome's DevTools
// endpoint rejects hostnames, so even configured addresses are resolved.
func resolveIP(ctx context.Context, address string) (string, error) {
	if ip := net.ParseIP(address); ip != nil {
		return address, nil
	}
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", address)
	if err != nil {
		return "", fmt.Errorf("resolving sandbox address %s: %w", address, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("sandbox address %s resolved to no IPv4 addresses", address)
	}
	return addrs[0].String(), nil
}
