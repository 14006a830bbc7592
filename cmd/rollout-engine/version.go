package main

import (
	"context"
	"fmt"
	"runtime/debug"
)

// version is overridden at build time via -ldflags.
var version = "dev"

// VersionCmd prints version information.
type VersionCmd struct{}

func (VersionCmd) Run(ctx context.Context) error {
	v := version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	fmt.Println("rollout-engine", v)
	return nil
}
