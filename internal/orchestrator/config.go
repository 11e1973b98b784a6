package orchestrator

// Config captures the runtime controls the orchestrator needs.
type Config struct {
	LabelPrefix    string
	DryRun         bool
	TargetBranches []string
	// TriggerLabel is the label added by a labeled event; when set only its target is processed.
	TriggerLabel string
	// Actor is mentioned in the comments posted on the source pull request.
	Actor string
	// RunURL links the workflow run from failure comments.
	RunURL string
}
