package deps

import (
	"fmt"
	"maps"
	"os/exec"
	"slices"
	"strings"

	"sequentier/internal/config"
)

// Requirement defines an external executable a mapping relies on.
type Requirement struct {
	Name    string
	Command string
}

// Status reports the availability of a worker executable.
type Status struct {
	Name      string
	Command   string
	Available bool
	Detail    string
}

// MappingRequirements lists the worker executables named by cfg, sorted by
// target app. Paths that still carry the {USER} token resolve per user and
// are skipped.
func MappingRequirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	var reqs []Requirement
	for _, name := range slices.Sorted(maps.Keys(cfg.Mapping)) {
		exe := cfg.Mapping[name].ExecutablePath
		if strings.Contains(exe, config.UserToken) {
			continue
		}
		reqs = append(reqs, Requirement{Name: name, Command: exe})
	}
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{Name: req.Name, Command: cmd}
		switch {
		case cmd == "":
			status.Detail = "executable not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("executable %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}
