package session

func MockSystemBinds(sources ...string) (restore func()) {
	saved := systemBinds
	systemBinds = nil
	for _, src := range sources {
		systemBinds = append(systemBinds, bindSpec{source: src, optional: true})
	}
	return func() {
		systemBinds = saved
	}
}

func MockProcMounts(path string) (restore func()) {
	saved := procMounts
	procMounts = path
	return func() {
		procMounts = saved
	}
}

const Fstab = fstab
