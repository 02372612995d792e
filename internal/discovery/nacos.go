package discovery

import (
	"context"
	"fmt"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/tollchat/tollchat/internal/config"
)

// NacosRegistry implements Registry on top of a Nacos naming client.
type NacosRegistry struct {
	client naming_client.INamingClient
	group  string
}

// NewNacosRegistry connects to the Nacos server described by cfg.
func NewNacosRegistry(cfg config.DiscoveryConfig) (*NacosRegistry, error) {
	clientCfg := *constant.NewClientConfig(
		constant.WithNamespaceId(cfg.Namespace),
		constant.WithUsername(cfg.Username),
		constant.WithPassword(cfg.Password),
		constant.WithTimeoutMs(5000),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
	)

	serverCfgs := []constant.ServerConfig{
		*constant.NewServerConfig(cfg.Addr, uint64(cfg.Port)),
	}

	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig:  &clientCfg,
		ServerConfigs: serverCfgs,
	})
	if err != nil {
		return nil, fmt.Errorf("creating nacos naming client: %w", err)
	}

	return &NacosRegistry{client: client, group: cfg.Group}, nil
}

// Register adds this process as an ephemeral instance of service. Ephemeral
// instances are dropped by the registry when heartbeats stop, so a crashed
// process disappears from resolution without manual cleanup.
func (r *NacosRegistry) Register(_ context.Context, service, host string, port int) error {
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          host,
		Port:        uint64(port),
		ServiceName: service,
		GroupName:   r.group,
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
	})
	if err != nil {
		return fmt.Errorf("registering %s at %s:%d: %w", service, host, port, err)
	}
	if !ok {
		return fmt.Errorf("registering %s at %s:%d: registry refused", service, host, port)
	}
	return nil
}

// Deregister removes this process's instance from the registry.
func (r *NacosRegistry) Deregister(_ context.Context, service, host string, port int) error {
	ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          host,
		Port:        uint64(port),
		ServiceName: service,
		GroupName:   r.group,
		Ephemeral:   true,
	})
	if err != nil {
		return fmt.Errorf("deregistering %s at %s:%d: %w", service, host, port, err)
	}
	if !ok {
		return fmt.Errorf("deregistering %s at %s:%d: registry refused", service, host, port)
	}
	return nil
}

// Resolve returns every registered instance of service, including unhealthy
// and disabled ones. Filtering is the dispatcher's job; the registry response
// is normalized into the typed Instance shape exactly once, here.
func (r *NacosRegistry) Resolve(_ context.Context, service string) ([]Instance, error) {
	raw, err := r.client.SelectAllInstances(vo.SelectAllInstancesParam{
		ServiceName: service,
		GroupName:   r.group,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", service, err)
	}

	instances := make([]Instance, 0, len(raw))
	for _, in := range raw {
		instances = append(instances, Instance{
			Host:    in.Ip,
			Port:    int(in.Port),
			Healthy: in.Healthy,
			Enabled: in.Enable,
		})
	}
	return instances, nil
}
