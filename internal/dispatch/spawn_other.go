//go:build !unix

package dispatch

import "syscall"

func detachedProcAttr() *syscall.SysProcAttr {
	return nil
}
