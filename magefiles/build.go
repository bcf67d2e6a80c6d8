//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const resourcesDir = "resources"

// Compiles the GLSL stages into the binaries the engine loads.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and builds the binary.
func (Build) Binary() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/hellotriangle", "."), withStream())
	return err
}

// buildShaders runs glslc from the shader source directory so its
// diagnostics name the files as they are laid out there.
func buildShaders() error {
	stages := []struct{ source, output string }{
		{"shader.vert", "vs.bin"},
		{"shader.frag", "ps.bin"},
	}
	dir := filepath.Join(resourcesDir, "shaders")
	for _, s := range stages {
		out := filepath.Join("..", s.output)
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.1", s.source, "-o", out), withDir(dir), withStream()); err != nil {
			return err
		}
	}
	return nil
}
