//go:build !unix

package mcast

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error { return nil }
