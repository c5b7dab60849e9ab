// Package testcontainers starts the PostgreSQL, Redis and RabbitMQ containers
// used by the end-to-end suites.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// start runs req and resolves the host address of port. The container is
// terminated when the address cannot be resolved.
func start(ctx context.Context, name string, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start %s container: %w", name, err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", terminate(ctx, container, fmt.Errorf("failed to get %s host: %w", name, err))
	}

	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return nil, "", terminate(ctx, container, fmt.Errorf("failed to get %s port: %w", name, err))
	}

	return container, fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

func terminate(ctx context.Context, c testcontainers.Container, cause error) error {
	if err := c.Terminate(ctx); err != nil {
		return fmt.Errorf("%w (cleanup error: %w)", cause, err)
	}
	return cause
}
