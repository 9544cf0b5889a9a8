package runner

import (
	"os"

	"github.com/opsdeck/missiond/pkg/executor"
)

// BuildEnv constructs the environment variable slice for a mission
// execution. It starts with the current process environment, overlays
// payload-specific variables, and adds MISSIOND_* metadata.
func BuildEnv(payloadEnv map[string]string, m executor.Mission, run executor.RunContext) []string {
	envMap := make(map[string]string)
	for _, e := range os.Environ() {
		for i := 0; i < len(e); i++ {
			if e[i] == '=' {
				envMap[e[:i]] = e[i+1:]
				break
			}
		}
	}

	for k, v := range payloadEnv {
		envMap[k] = v
	}

	envMap["MISSIOND_MISSION_ID"] = m.ID
	envMap["MISSIOND_MISSION_NAME"] = m.Name
	envMap["MISSIOND_RUN_ID"] = run.RunID
	envMap["MISSIOND_TRIGGER"] = run.Trigger

	result := make([]string, 0, len(envMap))
	for k, v := range envMap {
		result = append(result, k+"="+v)
	}
	return result
}
