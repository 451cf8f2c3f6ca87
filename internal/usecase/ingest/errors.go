// Package ingest drives the daemon: it feeds capture records into the usage
// store and runs analysis cycles over it.
package ingest

import "errors"

// ErrCaptureEnded reports that the capture stream closed while the daemon
// was still running.
var ErrCaptureEnded = errors.New("capture stream ended")
