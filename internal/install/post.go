package install

import (
	"context"
	"os"
	"path/filepath"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/definition"
)

// RunPost runs the post installation scripts in definition order.
func (i *Installer) RunPost(ctx context.Context) error {
	for n, script := range i.def.Post {
		if err := i.runScript(ctx, n+1, script); err != nil {
			return err
		}
	}
	return nil
}

func (i *Installer) runScript(ctx context.Context, n int, script definition.PostScript) error {
	tmp := i.rootPath("tmp")
	if err := os.MkdirAll(tmp, 01777); err != nil {
		return common.InstallationErrorf(err, "Failed to create %s", tmp)
	}

	f, err := os.CreateTemp(tmp, "ks-script-")
	if err != nil {
		return common.InstallationErrorf(err, "Failed to write post script %d", n)
	}
	path := f.Name()
	defer os.Remove(path)

	_, err = f.WriteString(script.Script)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(path, 0700)
	}
	if err != nil {
		return common.InstallationErrorf(err, "Failed to write post script %d", n)
	}

	var c command.Command
	if script.NoChroot {
		c = command.New(script.Interpreter, path).InDir(i.opts.BuildDir)
		c.Env = []string{
			"BUILD_DIR=" + i.opts.BuildDir,
			"INSTALL_ROOT=" + i.opts.InstallRoot,
			"LIVE_ROOT=" + i.opts.OutDir,
		}
	} else {
		c = i.inRoot(script.Interpreter, "/tmp/"+filepath.Base(path))
		c.Env = []string{}
	}

	i.logger.Infof("Running post script %d with %s", n, script.Interpreter)
	_, err = i.runner.Run(ctx, c)
	switch code := command.ExitCode(err); {
	case code == 0:
		return nil
	case code < 0:
		return common.InstallationErrorf(err, "Failed to execute %%post script with '%s'", script.Interpreter)
	case script.ErrorOnFail:
		return common.InstallationErrorf(err, "Post script %d failed", n)
	default:
		i.logger.Warnf("Post script %d exited with %d", n, code)
		return nil
	}
}
