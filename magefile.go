//go:build mage

package main

import (
	"fmt"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Build compiles the swiftkernel binary with the build timestamp baked
// into buildVersion.
func Build() error {
	version := time.Now().UTC().Format("2006.01.02-1504")
	ldflags := fmt.Sprintf("-X main.buildVersion=%s", version)
	return sh.RunV("go", "build", "-ldflags", ldflags, "-o", "bin/swiftkernel", "./cmd/swiftkernel")
}

// Test runs the full test suite with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Lint runs go vet across the module.
func Lint() error {
	return sh.RunV("go", "vet", "./...")
}

// CI runs Lint then Test, mirroring what a pull request check should do.
func CI() {
	mg.SerialDeps(Lint, Test)
}
