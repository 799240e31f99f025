//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

// Default target when mage runs without arguments.
var Default = Check

// Check runs vet and the tests.
func Check() {
	mg.SerialDeps(Vet, Test)
}

// Vet runs go vet over the module.
func Vet() error {
	_, err := executeCmd("go", withArgs("vet", "./..."), withStream())
	return err
}

// Test runs every test with the race detector.
func Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream())
	return err
}

type Build mg.Namespace

// Tool builds clothtool into bin/.
func (Build) Tool() error {
	_, err := executeCmd("go", withArgs("build", "-o", "bin/clothtool", "./cmd/clothtool"), withStream())
	return err
}

// Grid builds a sample 32x32 tearable grid blueprint with its top row pinned.
func (Build) Grid() error {
	mg.Deps(Build.Tool)
	_, err := executeCmd("bin/clothtool", withArgs("build", "grid:32", "-o", "bin/grid32.otcb", "-pin-top", "-tethers"), withStream())
	return err
}
