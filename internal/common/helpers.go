package common

import (
	"io"
	"os"
)

// CopyFile copies the contents of src to dst, replacing dst.
func CopyFile(src, dst string) error {
	/* #nosec G304 */
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	/* #nosec G302 G304 */
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
