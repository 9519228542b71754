package helper

import "os"

// writeCredentialsFile writes CIFS mount credentials to a 0600 temp file
// and returns a cleanup that removes it. Callers must defer cleanup() on
// every exit path — credentials must never live on disk longer than the
// single mount(8) invocation that consumes them, and must never appear
// as a process argument.
func writeCredentialsFile(content string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "fleet-cifs-creds-*")
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	cleanup = func() { _ = os.Remove(name) }

	if err := f.Chmod(0600); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return name, cleanup, nil
}
