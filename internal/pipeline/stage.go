package pipeline

// Stage is a step of one pipeline run.
type Stage int

const (
	StageIdle Stage = iota
	StageCapturing
	StageExtracting
	StageParsing
	StageResolving
	StageDispatching
	StageSuccess
	StageError
)

var stageNames = [...]string{
	StageIdle:        "idle",
	StageCapturing:   "capturing",
	StageExtracting:  "extracting",
	StageParsing:     "parsing",
	StageResolving:   "resolving",
	StageDispatching: "dispatching",
	StageSuccess:     "success",
	StageError:       "error",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status maps a stage onto what the user sees.
func (s Stage) Status() Status {
	switch s {
	case StageIdle:
		return StatusIdle
	case StageSuccess:
		return StatusSuccess
	case StageError:
		return StatusError
	default:
		return StatusProcessing
	}
}

// Status is the visible state of the trigger.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// StatusSink receives every visible status change. It is called from the
// goroutine running the pipeline and must not block.
type StatusSink func(Status)
