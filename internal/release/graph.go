// Package release implements a project rollout: building the ordered
// operation graph, executing it against the runtime, and compensating for
// the outcome.
//
// The dependency structure is deliberately a chain, not a general DAG:
// container N+1 depends only on container N's start, and each start depends
// on its own run-tag pull. That keeps failure semantics simple: stop at the
// first container that fails to start.
package release

import (
	"fmt"

	"github.com/SecureCloud-biz/autopi-core/internal/manifest"
)

// Operation is one node of a project's rollout graph. Operations are created
// fresh per reconciliation run, mutated only by the executor, and discarded
// at run end.
type Operation struct {
	// ID is the graph node key, unique within one graph.
	ID string
	// Kind identifies the action.
	Kind OperationKind
	// Target is the entity acted upon: an image:tag ref, a container name,
	// or a directory path.
	Target string
	// Image and Tag are set on ImagePull operations.
	Image string
	Tag   string
	// Container is set on ContainerStart operations.
	Container *manifest.ContainerSpec
	// DependsOn lists operation IDs that must have Succeeded first.
	DependsOn []string
	// Status is mutated by the executor as the operation progresses.
	Status OperationStatus
	// Err holds the failure cause when Status is Failed.
	Err error
}

// Graph is the ordered operation set for one project's rollout.
type Graph struct {
	ops  []*Operation
	byID map[string]*Operation
}

// PullID returns the operation ID of an image pull.
func PullID(image, tag string) string {
	return fmt.Sprintf("pull/%s:%s", image, tag)
}

// StartID returns the operation ID of a container start.
func StartID(name string) string {
	return fmt.Sprintf("start/%s", name)
}

// BuildGraph builds the operation graph for one project. For each container
// in declared order it emits an independent ImagePull per required tag, an
// ImagePull for the run tag, and a ContainerStart depending on that pull and
// on the previous container's start. Identical pulls requested by multiple
// containers collapse into a single operation; pulls are idempotent, one
// node per image:tag is enough.
//
// A project with no containers produces an empty graph, which trivially
// releases.
func BuildGraph(project *manifest.Project) *Graph {
	g := &Graph{byID: make(map[string]*Operation)}

	var prevStartID string
	for _, container := range project.Containers {
		for _, tag := range container.RequiredTags {
			g.addPull(container.Image, tag)
		}
		runPull := g.addPull(container.Image, container.Tag)

		start := &Operation{
			ID:        StartID(container.QualifiedName),
			Kind:      OpContainerStart,
			Target:    container.QualifiedName,
			Container: container,
			DependsOn: []string{runPull.ID},
			Status:    StatusPending,
		}
		if prevStartID != "" {
			start.DependsOn = append(start.DependsOn, prevStartID)
		}
		g.add(start)
		prevStartID = start.ID
	}

	return g
}

func (g *Graph) addPull(image, tag string) *Operation {
	id := PullID(image, tag)
	if existing, ok := g.byID[id]; ok {
		return existing
	}
	op := &Operation{
		ID:     id,
		Kind:   OpImagePull,
		Target: fmt.Sprintf("%s:%s", image, tag),
		Image:  image,
		Tag:    tag,
		Status: StatusPending,
	}
	g.add(op)
	return op
}

func (g *Graph) add(op *Operation) {
	g.ops = append(g.ops, op)
	g.byID[op.ID] = op
}

// Operations returns all operations in emission order.
func (g *Graph) Operations() []*Operation {
	return g.ops
}

// Operation returns the operation with the given ID, or nil.
func (g *Graph) Operation(id string) *Operation {
	return g.byID[id]
}

// Pulls returns the ImagePull operations in emission order.
func (g *Graph) Pulls() []*Operation {
	return g.byKind(OpImagePull)
}

// Starts returns the ContainerStart operations in chain order.
func (g *Graph) Starts() []*Operation {
	return g.byKind(OpContainerStart)
}

func (g *Graph) byKind(kind OperationKind) []*Operation {
	var out []*Operation
	for _, op := range g.ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}
