package workflow

// Lifecycle positions, grouped per entity. Each graph is enforced by a
// switch in teacher style: current state selects the reachable targets.

const (
	StageIdea        = "idea"
	StageReview      = "review"
	StageApproved    = "approved"
	StageDevelopment = "development"
	StageTesting     = "testing"
	StageRelease     = "release"
	StageLive        = "live"
)

const (
	BugOpen          = "open"
	BugInvestigating = "investigating"
	BugInProgress    = "in_progress"
	BugFixed         = "fixed"
	BugRetest        = "retest"
	BugClosed        = "closed"
	BugWontfix       = "wontfix"
)

const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskCanceled   = "canceled"
)

const (
	SprintPlanning  = "planning"
	SprintActive    = "active"
	SprintCompleted = "completed"
	SprintCancelled = "cancelled"
)

const (
	ReleasePlanning    = "planning"
	ReleaseDevelopment = "development"
	ReleaseTesting     = "testing"
	ReleaseStaging     = "staging"
	ReleaseProduction  = "production"
	ReleaseRolledBack  = "rolled_back"
)

const (
	StagePending   = "pending"
	StageRunning   = "running"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// PipelineStages are the four named phases of a release pipeline, in their
// conventional order. The engine imposes no sequencing between them.
var PipelineStages = []string{"build", "test", "staging", "production"}

func knownPipelineStage(name string) bool {
	for _, s := range PipelineStages {
		if s == name {
			return true
		}
	}
	return false
}

// ensureFeatureStage validates the strictly forward feature stage graph.
func ensureFeatureStage(from, to string) error {
	switch from {
	case StageIdea:
		if to == StageReview {
			return nil
		}
	case StageReview:
		if to == StageApproved {
			return nil
		}
	case StageApproved:
		if to == StageDevelopment {
			return nil
		}
	case StageDevelopment:
		if to == StageTesting {
			return nil
		}
	case StageTesting:
		if to == StageRelease {
			return nil
		}
	case StageRelease:
		if to == StageLive {
			return nil
		}
	}
	return &TransitionError{Entity: "feature", From: from, To: to}
}

func bugTerminal(status string) bool {
	return status == BugClosed || status == BugWontfix
}

// ensureBugStatus validates the bug status graph. closed and wontfix are
// reachable from any non-terminal status; retest can bounce back to
// in_progress or advance to fixed.
func ensureBugStatus(from, to string) error {
	if (to == BugClosed || to == BugWontfix) && !bugTerminal(from) {
		return nil
	}
	switch from {
	case BugOpen:
		if to == BugInvestigating || to == BugInProgress {
			return nil
		}
	case BugInvestigating:
		if to == BugInProgress {
			return nil
		}
	case BugInProgress:
		if to == BugFixed {
			return nil
		}
	case BugFixed:
		if to == BugRetest {
			return nil
		}
	case BugRetest:
		if to == BugFixed || to == BugInProgress {
			return nil
		}
	}
	return &TransitionError{Entity: "bug", From: from, To: to}
}

func ensureTaskStatus(from, to string) error {
	switch from {
	case TaskTodo:
		if to == TaskInProgress || to == TaskCanceled {
			return nil
		}
	case TaskInProgress:
		if to == TaskDone || to == TaskCanceled || to == TaskTodo {
			return nil
		}
	}
	return &TransitionError{Entity: "task", From: from, To: to}
}

func ensureSprintStatus(from, to string) error {
	switch from {
	case SprintPlanning:
		if to == SprintActive || to == SprintCancelled {
			return nil
		}
	case SprintActive:
		if to == SprintCompleted || to == SprintCancelled {
			return nil
		}
	}
	return &TransitionError{Entity: "sprint", From: from, To: to}
}

func ensureReleaseStatus(from, to string) error {
	switch from {
	case ReleasePlanning:
		if to == ReleaseDevelopment {
			return nil
		}
	case ReleaseDevelopment:
		if to == ReleaseTesting {
			return nil
		}
	case ReleaseTesting:
		if to == ReleaseStaging {
			return nil
		}
	case ReleaseStaging:
		if to == ReleaseProduction {
			return nil
		}
	case ReleaseProduction:
		if to == ReleaseRolledBack {
			return nil
		}
	}
	return &TransitionError{Entity: "release", From: from, To: to}
}
