//go:build windows

package process

func runSandboxInit(string) int {
	return initFailureExitCode
}
