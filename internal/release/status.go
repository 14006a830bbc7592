package release

import "github.com/SecureCloud-biz/autopi-core/internal/manifest"

// OperationKind identifies what an operation does to the host.
type OperationKind string

const (
	OpImagePull       OperationKind = "ImagePull"
	OpContainerStop   OperationKind = "ContainerStop"
	OpContainerStart  OperationKind = "ContainerStart"
	OpContainerRemove OperationKind = "ContainerRemove"
	OpDirectoryPurge  OperationKind = "DirectoryPurge"
	OpDirectoryRename OperationKind = "DirectoryRename"
)

// OperationStatus is the lifecycle state of a single operation within one
// reconciliation run.
type OperationStatus string

const (
	StatusPending   OperationStatus = "Pending"
	StatusRunning   OperationStatus = "Running"
	StatusSucceeded OperationStatus = "Succeeded"
	StatusFailed    OperationStatus = "Failed"
	// StatusSkipped marks operations never attempted because a predecessor
	// in their dependency chain failed or the run was cancelled.
	StatusSkipped OperationStatus = "Skipped"
)

// Phase is the per-project rollout state within one reconciliation run.
// Transitions: Pending -> Rolling -> {Released, Failed} -> Compensating ->
// Done. There is no retry within a run; a failed rollout is retried from
// scratch by a later reconciliation.
type Phase string

const (
	PhasePending      Phase = "Pending"
	PhaseRolling      Phase = "Rolling"
	PhaseReleased     Phase = "Released"
	PhaseFailed       Phase = "Failed"
	PhaseCompensating Phase = "Compensating"
	PhaseDone         Phase = "Done"
)

// Result is the terminal rollout decision for a project.
type Result string

const (
	// ResultReleased means every declared container start succeeded. A
	// project with no containers is trivially Released.
	ResultReleased Result = "Released"
	// ResultFailed means an operation in the startup chain failed; the
	// project was stopped and fallbacks restarted.
	ResultFailed Result = "Failed"
)

// Outcome is what one project's rollout produced. It is consumed by the
// compensator immediately and reported to the caller; nothing is persisted
// between runs.
type Outcome struct {
	// Project is the project this outcome belongs to.
	Project *manifest.Project
	// Result is the terminal decision.
	Result Result
	// FailedOperation references the operation that caused a Failed result:
	// the start that errored, the pull that blocked a start, or a synthetic
	// directory operation when rotation failed. Nil on Released and on
	// cancellation.
	FailedOperation *Operation
}

// Released reports whether the rollout released successfully.
func (o Outcome) Released() bool {
	return o.Result == ResultReleased
}
