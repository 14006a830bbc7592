package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SecureCloud-biz/autopi-core/internal/runlock"
)

// ReleaseCmd runs a single reconciliation cycle and exits.
type ReleaseCmd struct {
	ManifestFile string        `kong:"required,name='manifest',help='Path to the HCL release manifest.'"`
	LockFile     string        `kong:"optional,name='lock-file',default='/var/run/rollout-engine.pid',help='Pidfile serializing reconciliation runs on this host.'"`
	DockerBinary string        `kong:"optional,name='docker-binary',default='docker',help='Container runtime CLI binary.'"`
	CallTimeout  time.Duration `kong:"optional,name='call-timeout',default='5m',help='Deadline for a single runtime call.'"`
	Verbose      bool          `kong:"optional,name='verbose',short='v',help='Show debug messages.'"`
	JSONLog      bool          `kong:"optional,name='json-log',help='Emit logs as JSON lines.'"`
}

// Run executes one reconciliation cycle.
func (cmd ReleaseCmd) Run(ctx context.Context) error {
	logger, flush, err := newLogger(cmd.Verbose, cmd.JSONLog)
	if err != nil {
		return err
	}
	defer flush()

	m, err := loadManifest(cmd.ManifestFile)
	if err != nil {
		return err
	}

	lock, err := runlock.Acquire(logger.WithName("lock"), cmd.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	summary, err := runCycle(ctx, logger, m, cycleOptions{
		dockerBinary: cmd.DockerBinary,
		callTimeout:  cmd.CallTimeout,
	})
	if err != nil {
		return err
	}

	fmt.Println(summary.String())
	if summary.Failed() {
		return fmt.Errorf("projects failed to release: %s", strings.Join(summary.FailedProjects(), ", "))
	}
	return nil
}
