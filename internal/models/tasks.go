package models

// Task statuses reported by the runner.
const (
	TaskStatusOk      = "OK"
	TaskStatusChanged = "CHANGED"
	TaskStatusFailed  = "FAILED"
	TaskStatusSkipped = "SKIPPED"
)

type PackagesParams struct {
	Names       []string `yaml:"names"`
	UpdateCache bool     `yaml:"update_cache,omitempty"`
}

type UserParams struct {
	Name   string `yaml:"name"`
	Home   string `yaml:"home,omitempty"`
	Shell  string `yaml:"shell,omitempty"`
	System bool   `yaml:"system,omitempty"`
}

type ArtifactParams struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
	Owner  string `yaml:"owner,omitempty"`
}

type CommandParams struct {
	Cmd        string `yaml:"cmd"`
	Chdir      string `yaml:"chdir,omitempty"`
	User       string `yaml:"user,omitempty"`
	Creates    string `yaml:"creates,omitempty"`
	Background bool   `yaml:"background,omitempty"`
	// Timeout bounds how long a backgrounded command may keep running
	// before it is abandoned. Zero means the configured default.
	Timeout uint64 `yaml:"timeout,omitempty"`
}

type CheckParams struct {
	Cmd    string `yaml:"cmd"`
	Expect string `yaml:"expect,omitempty"`
}

// Task is one ordered step of the task list. Exactly one of the parameter
// blocks must be set; Kind reports which one.
type Task struct {
	Name       string          `yaml:"name"`
	BestEffort bool            `yaml:"best_effort,omitempty"`
	Become     bool            `yaml:"become,omitempty"`
	Packages   *PackagesParams `yaml:"packages,omitempty"`
	User       *UserParams     `yaml:"user,omitempty"`
	Artifact   *ArtifactParams `yaml:"artifact,omitempty"`
	Command    *CommandParams  `yaml:"command,omitempty"`
	Check      *CheckParams    `yaml:"check,omitempty"`
}

const (
	TaskKindPackages = "packages"
	TaskKindUser     = "user"
	TaskKindArtifact = "artifact"
	TaskKindCommand  = "command"
	TaskKindCheck    = "check"
)

func (t Task) Kind() string {
	switch {
	case t.Packages != nil:
		return TaskKindPackages
	case t.User != nil:
		return TaskKindUser
	case t.Artifact != nil:
		return TaskKindArtifact
	case t.Command != nil:
		return TaskKindCommand
	case t.Check != nil:
		return TaskKindCheck
	default:
		return ""
	}
}

// TaskResult captures the outcome of a single task against the host.
type TaskResult struct {
	TaskName string
	Kind     string
	Status   string
	ExitCode int
	Output   string
	Err      error
}

type RunSummary struct {
	Total   int
	Ok      int
	Changed int
	Skipped int
	Failed  int
}

func (s RunSummary) Succeeded() bool {
	return s.Failed == 0
}
