package packager

import "os/exec"

func MockIsTerminal(terminal bool) (restore func()) {
	saved := isTerminal
	isTerminal = func() bool { return terminal }
	return func() {
		isTerminal = saved
	}
}

func MockImplantISOMD5Paths(paths ...string) (restore func()) {
	saved, savedLookPath := implantISOMD5Paths, lookPath
	implantISOMD5Paths = paths
	lookPath = func(file string) (string, error) {
		return "", exec.ErrNotFound
	}
	return func() {
		implantISOMD5Paths, lookPath = saved, savedLookPath
	}
}
