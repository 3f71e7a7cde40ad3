package execution

import "strconv"

// RunnerConfig describes how the test runner is invoked.
type RunnerConfig struct {
	// Command and Args form the fixed prefix, e.g. npx cucumber-js --config .cucumber.json.
	Command string
	Args    []string
	// Dir is the runner's working directory; empty means the current one.
	Dir string
	// ResultsFile is passed as --format json:<ResultsFile>; empty disables it.
	ResultsFile string
	// Env is added to the parent environment.
	Env map[string]string
}

// DefaultRunner runs cucumber-js through npx with the project's
// .cucumber.json profile.
func DefaultRunner() RunnerConfig {
	return RunnerConfig{
		Command:     "npx",
		Args:        []string{"cucumber-js", "--config", ".cucumber.json"},
		ResultsFile: "test_results.json",
	}
}

// Spec builds the launch spec for one run.
func (c RunnerConfig) Spec(expr string, names []string, headless bool) LaunchSpec {
	args := append([]string(nil), c.Args...)
	args = append(args, "--tags", expr)
	if c.ResultsFile != "" {
		args = append(args, "--format", "json:"+c.ResultsFile)
	}
	args = append(args, "--format", "progress")
	for _, n := range names {
		args = append(args, "--name", n)
	}

	extra := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		extra[k] = v
	}
	extra["HEADLESS"] = strconv.FormatBool(headless)

	return LaunchSpec{
		Command: c.Command,
		Args:    args,
		Env:     mergeEnv(processEnv(), extra),
		Dir:     c.Dir,
	}
}
