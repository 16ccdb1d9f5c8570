//go:build !linux && !darwin

package tpmutil

import (
	"os"
	"time"
)

const pollNoTimeout time.Duration = -1

// poll is a no-op where reads on the TPM handle already block.
func poll(*os.File, time.Duration) error { return nil }
