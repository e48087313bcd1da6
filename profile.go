package main

import (
	"runtime/pprof"
	"strings"
	"time"

	"github.com/golang/glog"
)

const goroutineDebugLevel = 2

// dumpGoroutines logs all goroutine stacks. Triggered by SIGUSR1 to
// diagnose stuck connection handlers without restarting the server.
func dumpGoroutines() {
	var sb strings.Builder
	if err := pprof.Lookup("goroutine").WriteTo(&sb, goroutineDebugLevel); err != nil {
		glog.Errorf("dump goroutines: %v", err)
		return
	}
	glog.Infof("goroutine dump at %s:\n%s", time.Now().Format(time.RFC3339), sb.String())
}
