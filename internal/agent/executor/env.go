package executor

import "fmt"

// buildEnv returns the exact environment a lifecycle script runs with,
// per spec.md §4.2: a static safe set plus app identity variables, then
// any payload-provided variables — never the agent's own process
// environment.
func buildEnv(appName, appVersion string, paths Paths, serviceUser, serviceGroup string, payloadEnv map[string]string) []string {
	env := []string{
		"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"HOME=/nonexistent",
		"LANG=C.UTF-8",
		fmt.Sprintf("APP_NAME=%s", appName),
		fmt.Sprintf("APP_VERSION=%s", appVersion),
		fmt.Sprintf("APP_DIR=%s", paths.AppDir),
		fmt.Sprintf("SERVICE_USER=%s", serviceUser),
		fmt.Sprintf("SERVICE_GROUP=%s", serviceGroup),
		fmt.Sprintf("DATA_DIR=%s", paths.Data),
		fmt.Sprintf("CONFIG_DIR=%s", paths.Config),
	}
	for k, v := range payloadEnv {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
