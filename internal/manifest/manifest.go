// Package manifest defines the declared desired state for a reconciliation
// run: the set of projects to roll out, their containers in startup order,
// and the global engine flags. A manifest is loaded once per run and treated
// as an immutable snapshot.
package manifest

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// Manifest is the root of the declared state.
type Manifest struct {
	// RemoveUnknownContainers enables the fleet pruner. Destructive, so it
	// defaults to off and must be declared explicitly.
	RemoveUnknownContainers bool `hcl:"remove_unknown_containers,optional"`

	// Registry holds credentials for the container registry. When set, the
	// engine logs in before any image is pulled.
	Registry *RegistryConfig `hcl:"registry,block"`

	// Archive configures best-effort upload of displaced purge directories
	// to an S3-compatible object store before rotation.
	Archive *ArchiveConfig `hcl:"archive,block"`

	// Verify configures cosign signature verification of run-tag images
	// before any pull. Verification is enabled by declaring a public key.
	Verify *VerifyConfig `hcl:"verify,block"`

	// Projects in declared order. Order is the order projects are visited.
	Projects []*Project `hcl:"project,block"`
}

// RegistryConfig holds container registry credentials.
type RegistryConfig struct {
	Host     string `hcl:"host"`
	Username string `hcl:"username"`
	Password string `hcl:"password"`
}

// ArchiveConfig configures the S3-compatible archive store.
type ArchiveConfig struct {
	Bucket          string `hcl:"bucket"`
	Region          string `hcl:"region"`
	Endpoint        string `hcl:"endpoint,optional"`
	AccessKeyID     string `hcl:"access_key_id,optional"`
	SecretAccessKey string `hcl:"secret_access_key,optional"`
	Prefix          string `hcl:"prefix,optional"`
}

// VerifyConfig configures cosign image signature verification.
type VerifyConfig struct {
	// PublicKey is a PEM-encoded public key. Every run-tag image must carry
	// a valid signature against it or the owning project fails closed.
	PublicKey string `hcl:"public_key"`
	// IgnoreTlog skips transparency log verification, for images signed
	// without Rekor upload (air-gapped registries).
	IgnoreTlog bool `hcl:"ignore_tlog,optional"`
}

// Project is one ordered set of containers rolled out as a unit.
type Project struct {
	// Name is unique among declared projects.
	Name string `hcl:"name,label"`
	// Version identifies the release being rolled out. Opaque to the engine.
	Version string `hcl:"version"`
	// PurgeDirectories are rotated (live -> "_bak") before this project's
	// containers are started.
	PurgeDirectories []string `hcl:"purge_directories,optional"`
	// ObsoleteContainers are removed once the new version is confirmed
	// running.
	ObsoleteContainers []string `hcl:"obsolete_containers,optional"`
	// FallbackContainers are restarted if the new version fails to start.
	FallbackContainers []string `hcl:"fallback_containers,optional"`
	// Containers in startup order. Container N+1 starts only after
	// container N started successfully. An empty list trivially releases
	// with no running containers.
	Containers []*ContainerSpec `hcl:"container,block"`
}

// ContainerSpec declares one container of a project.
type ContainerSpec struct {
	// QualifiedName is globally unique across all projects in a run. It is
	// both the runtime container name and the dependency-graph node key.
	QualifiedName string `hcl:"name,label"`
	// Image is the repository reference without a tag.
	Image string `hcl:"image"`
	// Tag is the tag to run.
	Tag string `hcl:"tag"`
	// RequiredTags are additional tags of the same image pre-pulled but not
	// run (migration tooling and the like).
	RequiredTags []string `hcl:"required_tags,optional"`
	// Parameters is the raw "parameters" expression; evaluated at load time
	// into StartupParameters.
	Parameters hcl.Expression `hcl:"parameters,optional"`

	// StartupParameters are runtime-specific settings (ports, volumes, env,
	// restart policy). Opaque to the engine; passed through verbatim to the
	// runtime client. Populated from the "parameters" attribute at load.
	StartupParameters map[string]any
}

// RunRef returns the image:tag reference of the tag this container runs.
func (c *ContainerSpec) RunRef() string {
	return fmt.Sprintf("%s:%s", c.Image, c.Tag)
}

// ContainerNames returns the qualified names of the project's declared
// containers in startup order.
func (p *Project) ContainerNames() []string {
	names := make([]string, 0, len(p.Containers))
	for _, c := range p.Containers {
		names = append(names, c.QualifiedName)
	}
	return names
}

// Images returns the ordered image:tag references run by the project.
func (p *Project) Images() []string {
	images := make([]string, 0, len(p.Containers))
	for _, c := range p.Containers {
		images = append(images, c.RunRef())
	}
	return images
}

// ProjectNames returns the declared project names in order.
func (m *Manifest) ProjectNames() []string {
	names := make([]string, 0, len(m.Projects))
	for _, p := range m.Projects {
		names = append(names, p.Name)
	}
	return names
}
