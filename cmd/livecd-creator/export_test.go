package main

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/rpmmd"
)

var (
	Run      = run
	ExitCode = exitCode
)

func MockGeteuid(uid int) (restore func()) {
	saved := osGeteuid
	osGeteuid = func() int {
		return uid
	}
	return func() {
		osGeteuid = saved
	}
}

func MockRunner(runner command.Runner) (restore func()) {
	saved := newRunner
	newRunner = func(logrus.FieldLogger) command.Runner {
		return runner
	}
	return func() {
		newRunner = saved
	}
}

func MockEngine(engine rpmmd.PackageEngine) (restore func()) {
	saved := newEngine
	newEngine = func(command.Runner, logrus.FieldLogger, *toolConfig) rpmmd.PackageEngine {
		return engine
	}
	return func() {
		newEngine = saved
	}
}

func MockTimeNow(now time.Time) (restore func()) {
	saved := timeNow
	timeNow = func() time.Time {
		return now
	}
	return func() {
		timeNow = saved
	}
}
