package staleness

// Action is what the supervisor does after comparing timestamps.
type Action int

const (
	// Proceed runs the command.
	Proceed Action = iota
	// SkipFresh exits without running: the last success is newer than the threshold.
	SkipFresh
	// DryRunExit exits successfully without running.
	DryRunExit
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case SkipFresh:
		return "skip"
	case DryRunExit:
		return "dryrun"
	default:
		return "unknown"
	}
}

// Delta is the threshold minus the last-run time, in seconds.
// Negative means the run is not due yet.
func Delta(threshold, modTime int64) int64 {
	return threshold - modTime
}

// Decide compares the threshold against the lock's last-run time.
// A threshold equal to the last-run time is due.
func Decide(threshold, modTime int64, dryRun bool) Action {
	if threshold < modTime {
		return SkipFresh
	}
	if dryRun {
		return DryRunExit
	}
	return Proceed
}
