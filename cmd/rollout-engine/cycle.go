package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/SecureCloud-biz/autopi-core/internal/archive"
	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
	"github.com/SecureCloud-biz/autopi-core/internal/reconcile"
	"github.com/SecureCloud-biz/autopi-core/internal/runtime"
)

type cycleOptions struct {
	dockerBinary string
	callTimeout  time.Duration
}

// runCycle wires one reconciliation cycle for a loaded manifest: a docker
// client carrying the manifest's registry credentials, an archive store when
// one is declared, and the runner itself.
func runCycle(ctx context.Context, logger logr.Logger, m *manifest.Manifest, opts cycleOptions) (reconcile.Summary, error) {
	dockerOpts := runtime.DockerOptions{
		Binary:      opts.dockerBinary,
		CallTimeout: opts.callTimeout,
	}
	if m.Registry != nil {
		dockerOpts.RegistryHost = m.Registry.Host
		dockerOpts.Username = m.Registry.Username
		dockerOpts.Password = m.Registry.Password
	}
	rt := runtime.NewDockerClient(logger.WithName("docker"), dockerOpts)

	runnerOpts := reconcile.RunnerOptions{}
	if m.Archive != nil {
		store, err := archive.NewS3Store(ctx, m.Archive)
		if err != nil {
			return reconcile.Summary{}, fmt.Errorf("failed to initialize archive store: %w", err)
		}
		defer func() { _ = store.Close() }()
		runnerOpts.Archiver = archive.NewArchiver(logger.WithName("archive"), store, m.Archive.Prefix)
	}

	outcomes, err := reconcile.NewRunner(logger, rt, m, runnerOpts).Run(ctx)
	return reconcile.NewSummary(outcomes), err
}

// loadManifest loads and validates a manifest file.
func loadManifest(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
