package platform

func MockAddnotePath(path string) (restore func()) {
	saved := addnotePath
	addnotePath = path
	return func() {
		addnotePath = saved
	}
}
