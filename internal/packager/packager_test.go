package packager_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/livecd-creator/internal/common"
	command_mock "github.com/osbuild/livecd-creator/internal/mocks/command"
	"github.com/osbuild/livecd-creator/internal/packager"
)

type fakeBoot struct{}

func (fakeBoot) ISOArguments(label, outDir string) []string {
	return []string{"-b", "isolinux/isolinux.bin", "-V", label, outDir}
}

func newBuildDir(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "LiveOS"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out", "LiveOS"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "LiveOS", "ext3fs.img"), []byte("image"), 0644))
	return dir
}

func TestCreateSquashedImage(t *testing.T) {
	cases := []struct {
		terminal bool
		args     []string
	}{
		{true, []string{"data", "out/LiveOS/squashfs.img"}},
		{false, []string{"data", "out/LiveOS/squashfs.img", "-no-progress"}},
	}

	for _, c := range cases {
		restore := packager.MockIsTerminal(c.terminal)
		logger, _ := logrusTest.NewNullLogger()
		runner := command_mock.NewRunner()
		dir := newBuildDir(t)

		p := packager.New(runner, logger, fakeBoot{}, packager.Options{BuildDir: dir, Label: "LIVE"})
		require.NoError(t, p.CreateSquashedImage(context.Background()))

		calls := runner.CallsTo("mksquashfs")
		require.Len(t, calls, 1)
		assert.Equal(t, c.args, calls[0].Args)
		assert.Equal(t, dir, calls[0].Dir)
		restore()
	}
}

func TestCreateSquashedImageFailure(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	runner := command_mock.NewRunner().On("mksquashfs", command_mock.Fail(1))
	p := packager.New(runner, logger, fakeBoot{}, packager.Options{BuildDir: newBuildDir(t), Label: "LIVE"})

	err := p.CreateSquashedImage(context.Background())
	var ierr *common.InstallationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "Failed to create out/LiveOS/squashfs.img: mksquashfs exited with error (1)", err.Error())
}

func TestSkipCompression(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	runner := command_mock.NewRunner()
	dir := newBuildDir(t)

	p := packager.New(runner, logger, fakeBoot{}, packager.Options{BuildDir: dir, Label: "LIVE", SkipCompression: true})
	require.NoError(t, p.CreateSquashedImage(context.Background()))

	assert.Empty(t, runner.Calls())
	assert.NoFileExists(t, filepath.Join(dir, "data", "LiveOS", "ext3fs.img"))
	assert.FileExists(t, filepath.Join(dir, "out", "LiveOS", "ext3fs.img"))
}

func TestPackage(t *testing.T) {
	defer packager.MockIsTerminal(true)()
	tool := filepath.Join(t.TempDir(), "implantisomd5")
	require.NoError(t, os.WriteFile(tool, nil, 0755))
	defer packager.MockImplantISOMD5Paths("/nonexistent/implantisomd5", tool)()

	logger, hook := logrusTest.NewNullLogger()
	runner := command_mock.NewRunner()
	dir := newBuildDir(t)
	outDir := t.TempDir()

	p := packager.New(runner, logger, fakeBoot{}, packager.Options{BuildDir: dir, Label: "LIVE", OutputDir: outDir})
	iso, err := p.Package(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "LIVE.iso"), iso)

	assert.Equal(t, []string{
		"mksquashfs data out/LiveOS/squashfs.img",
		"mkisofs -o " + iso + " -b isolinux/isolinux.bin -V LIVE " + filepath.Join(dir, "out"),
		tool + " " + iso,
	}, runner.Commands())
	assert.Empty(t, hook.AllEntries())
}

func TestPackageISOFailure(t *testing.T) {
	defer packager.MockIsTerminal(true)()
	logger, _ := logrusTest.NewNullLogger()
	runner := command_mock.NewRunner().On("mkisofs", command_mock.Fail(255))

	p := packager.New(runner, logger, fakeBoot{}, packager.Options{BuildDir: newBuildDir(t), Label: "LIVE", OutputDir: t.TempDir()})
	_, err := p.Package(context.Background())
	var ierr *common.InstallationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "ISO creation failed!", ierr.Reason)
	assert.Len(t, runner.Calls(), 2)
}

func TestImplantChecksumMissingTool(t *testing.T) {
	defer packager.MockImplantISOMD5Paths()()
	logger, hook := logrusTest.NewNullLogger()
	runner := command_mock.NewRunner()

	p := packager.New(runner, logger, fakeBoot{}, packager.Options{Label: "LIVE"})
	p.ImplantIntegrityChecksum(context.Background(), "LIVE.iso")

	assert.Empty(t, runner.Calls())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "isomd5sum not installed; not setting up mediacheck", hook.LastEntry().Message)
}
