//go:build !unix

package opensslconf

import "os"

func lockShared(*os.File) (func(), error)    { return func() {}, nil }
func lockExclusive(*os.File) (func(), error) { return func() {}, nil }
