// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes attached to every plugin failure.
const (
	CodeFetchFailed          = "FETCH_FAILED"
	CodeInvalidSource        = "INVALID_SOURCE"
	CodeCompileFailed        = "COMPILE_FAILED"
	CodeCancelled            = "CANCELLED"
	CodeMountTimeout         = "MOUNT_TIMEOUT"
	CodeInvalidPluginExport  = "INVALID_PLUGIN_EXPORT"
	CodePluginRuntimeError   = "PLUGIN_RUNTIME_ERROR"
	CodeManifestSourceFailed = "MANIFEST_SOURCE_FAILED"
)

// errBuilder starts an error in the plugin domain for the named plugin.
func errBuilder(code, name string) oops.OopsErrorBuilder {
	return oops.In("plugin").Code(code).With("plugin", name)
}

// ErrorCode returns the oops code carried by err, or "" if there is none.
func ErrorCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	return ErrorCode(err) == CodeCancelled
}
