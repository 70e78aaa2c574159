//go:build !unix

package maintenance

import "errors"

func Reexec() error {
	return errors.New("in-place restart is not supported on this platform")
}
