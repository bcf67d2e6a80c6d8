//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the triangle on the Vulkan backend.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", "main.go"), withStream()); err != nil {
		return err
	}
	return nil
}

// Renders 120 frames on the software backend and captures the last one.
func (Run) Software() error {
	if err := buildShaders(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("run", "main.go", "-backend", "software", "-frames", "120", "-capture", "frame.bmp"), withStream())
	return err
}

// Runs the unit tests with the race detector.
func (Run) Test() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
