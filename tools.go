//go:build tools
// +build tools

// Package viamgridslam tracks the build tools the module depends on.
package viamgridslam

import (
	_ "github.com/edaniels/golinters/cmd/combined"
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/rhysd/actionlint/cmd/actionlint"
)
