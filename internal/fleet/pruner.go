// Package fleet removes running containers that no declared project accounts
// for. Pruning is destructive and therefore gated by an explicit manifest
// flag; it runs once per reconciliation cycle, before any project-specific
// start or stop activity, so orphans cannot hold ports or other resources
// the intended containers need.
package fleet

import (
	"context"
	"strings"

	"github.com/go-logr/logr"

	"github.com/SecureCloud-biz/autopi-core/internal/logging"
	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
	"github.com/SecureCloud-biz/autopi-core/internal/runtime"
)

// Pruner force-removes orphan containers.
type Pruner struct {
	runtime runtime.Client
	logger  logr.Logger
}

// NewPruner constructs a Pruner.
func NewPruner(logger logr.Logger, rt runtime.Client) *Pruner {
	return &Pruner{runtime: rt, logger: logger}
}

// Prune removes every running container that cannot be attributed to one of
// the declared projects. Removal failures are logged and non-fatal; the
// reconciliation cycle proceeds regardless.
func (p *Pruner) Prune(ctx context.Context, projects []*manifest.Project) error {
	running, err := p.runtime.ListRunningContainerNames(ctx)
	if err != nil {
		return err
	}

	known := knownContainerIndex(projects)
	for _, name := range running {
		if known.attributes(name) {
			continue
		}

		p.logger.Info("Removing unknown container", "container", name)
		if err := p.runtime.RemoveContainer(ctx, name, true); err != nil {
			p.logger.Error(err, "Failed to remove unknown container", "container", name)
			continue
		}
		logging.LogAuditEvent(p.logger, logging.EventOrphanPruned, map[string]string{
			"container": name,
		})
	}
	return nil
}

// containerIndex answers whether a running container belongs to the declared
// fleet. A container is attributed when it is declared by a project (as a
// rollout container, an obsolete container, or a fallback container) or when
// its name is namespaced under a declared project name.
type containerIndex struct {
	declared     map[string]struct{}
	projectNames []string
}

func knownContainerIndex(projects []*manifest.Project) *containerIndex {
	idx := &containerIndex{declared: make(map[string]struct{})}
	for _, project := range projects {
		idx.projectNames = append(idx.projectNames, project.Name)
		for _, name := range project.ContainerNames() {
			idx.declared[name] = struct{}{}
		}
		for _, name := range project.ObsoleteContainers {
			idx.declared[name] = struct{}{}
		}
		for _, name := range project.FallbackContainers {
			idx.declared[name] = struct{}{}
		}
	}
	return idx
}

func (idx *containerIndex) attributes(name string) bool {
	if _, ok := idx.declared[name]; ok {
		return true
	}
	for _, project := range idx.projectNames {
		if name == project || strings.HasPrefix(name, project+"-") {
			return true
		}
	}
	return false
}
