package manifest

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
)

// Validate checks the structural invariants of the declared state: unique
// project names, globally unique container qualified names, and well-formed
// image references. Violations are permanent configuration errors; nothing
// is applied to the host until the whole manifest validates.
func (m *Manifest) Validate() error {
	projectNames := make(map[string]struct{}, len(m.Projects))
	containerNames := make(map[string]string)

	for _, project := range m.Projects {
		if project.Name == "" {
			return fmt.Errorf("project with empty name")
		}
		if _, dup := projectNames[project.Name]; dup {
			return fmt.Errorf("duplicate project name %q", project.Name)
		}
		projectNames[project.Name] = struct{}{}

		if project.Version == "" {
			return fmt.Errorf("project %q: version is required", project.Name)
		}

		for _, container := range project.Containers {
			if container.QualifiedName == "" {
				return fmt.Errorf("project %q: container with empty name", project.Name)
			}
			if owner, dup := containerNames[container.QualifiedName]; dup {
				return fmt.Errorf("container name %q declared by both project %q and project %q", container.QualifiedName, owner, project.Name)
			}
			containerNames[container.QualifiedName] = project.Name

			if err := validateImageRefs(container); err != nil {
				return fmt.Errorf("project %q, container %q: %w", project.Name, container.QualifiedName, err)
			}
		}

		for _, dir := range project.PurgeDirectories {
			if dir == "" || dir == "/" {
				return fmt.Errorf("project %q: refusing purge directory %q", project.Name, dir)
			}
		}
	}

	return nil
}

func validateImageRefs(container *ContainerSpec) error {
	if container.Image == "" {
		return fmt.Errorf("image is required")
	}
	if container.Tag == "" {
		return fmt.Errorf("tag is required")
	}

	if _, err := name.NewTag(container.RunRef()); err != nil {
		return fmt.Errorf("invalid image reference %q: %w", container.RunRef(), err)
	}
	for _, tag := range container.RequiredTags {
		ref := fmt.Sprintf("%s:%s", container.Image, tag)
		if _, err := name.NewTag(ref); err != nil {
			return fmt.Errorf("invalid required tag reference %q: %w", ref, err)
		}
	}

	return nil
}
