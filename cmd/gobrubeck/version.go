package main

import "runtime/debug"

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = ""

func getVersion() string {
	if Version != "" {
		return Version
	}
	if build, ok := debug.ReadBuildInfo(); ok && build.Main.Version != "" {
		return build.Main.Version
	}
	return "unknown"
}
