package core

import "time"

// Event is the interface for in-process pipeline notifications. These are
// transient observer signals; the durable timeline is the JobEvent log.
type Event interface {
	eventMarker()
}

// PipelineStarted is emitted when a job begins (or resumes) execution.
type PipelineStarted struct {
	Job       *Job
	Resumed   bool
	Timestamp time.Time
}

func (*PipelineStarted) eventMarker() {}

// StepFinished is emitted when a pipeline step completes.
type StepFinished struct {
	Job       *Job
	Step      Step
	Timestamp time.Time
}

func (*StepFinished) eventMarker() {}

// PipelineCompleted is emitted when the final step completes.
type PipelineCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*PipelineCompleted) eventMarker() {}

// PipelineFailed is emitted when a step failure halts the job.
type PipelineFailed struct {
	Job       *Job
	Step      Step
	Error     error
	Timestamp time.Time
}

func (*PipelineFailed) eventMarker() {}

// ClipResolved is emitted when a pending clip artifact reaches a terminal
// state through reconciliation.
type ClipResolved struct {
	Artifact  *Artifact
	Failed    bool
	Timestamp time.Time
}

func (*ClipResolved) eventMarker() {}

// PostPublishedEvent is emitted when a scheduled post publishes successfully.
type PostPublishedEvent struct {
	Post      *ScheduledPost
	Timestamp time.Time
}

func (*PostPublishedEvent) eventMarker() {}

// PostFailedEvent is emitted when a publish attempt fails, terminally or not.
type PostFailedEvent struct {
	Post      *ScheduledPost
	Terminal  bool
	Timestamp time.Time
}

func (*PostFailedEvent) eventMarker() {}
