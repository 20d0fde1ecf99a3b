// Package discovery registers the service with Consul so the gateway can
// route admin traffic to it.
package discovery

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hashicorp/consul/api"
)

type Registration struct {
	Name    string
	Address string
	Port    string
	Tags    []string
}

// ID is stable per host so a restart replaces the previous entry.
func (r Registration) ID() string {
	return fmt.Sprintf("%s-%s-%s-http", r.Name, r.Address, r.Port)
}

type ServiceRegistry struct {
	client *api.Client
	reg    Registration
	logger *slog.Logger
}

func NewServiceRegistry(consulAddr string, reg Registration, logger *slog.Logger) (*ServiceRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	consulConfig := api.DefaultConfig()
	consulConfig.Address = consulAddr

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}
	return &ServiceRegistry{client: client, reg: reg, logger: logger}, nil
}

// AgentRegistration builds the payload sent to the Consul agent.
func (sr *ServiceRegistry) AgentRegistration() (*api.AgentServiceRegistration, error) {
	port, err := strconv.Atoi(sr.reg.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP port %q: %w", sr.reg.Port, err)
	}

	tags := append([]string{"http", "api"}, sr.reg.Tags...)
	return &api.AgentServiceRegistration{
		ID:      sr.reg.ID(),
		Name:    sr.reg.Name,
		Port:    port,
		Address: sr.reg.Address,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", sr.reg.Address, port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
		Tags: tags,
		Meta: map[string]string{
			"protocol": "http",
			"version":  "1.0",
		},
	}, nil
}

func (sr *ServiceRegistry) Register() error {
	reg, err := sr.AgentRegistration()
	if err != nil {
		return err
	}
	if err := sr.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("failed to register HTTP service with Consul: %w", err)
	}
	sr.logger.Info("registered with consul", "service", reg.Name, "id", reg.ID, "address", reg.Address, "port", reg.Port)
	return nil
}

func (sr *ServiceRegistry) Deregister() error {
	if err := sr.client.Agent().ServiceDeregister(sr.reg.ID()); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	sr.logger.Info("deregistered from consul", "id", sr.reg.ID())
	return nil
}
