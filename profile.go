package main

import (
	"fmt"
	"os"
	"path"
	"runtime/pprof"
	"time"

	"github.com/golang/glog"
)

const profileTimeFormat = "20060102_150405"

// Profiler is a toggleable CPU profiling session for the running client.
type Profiler struct {
	dataDir string
	file    *os.File
}

// StartProfiler begins CPU profiling into dataDir. Call Stop to flush.
func StartProfiler(dataDir string) *Profiler {
	fn := path.Join(dataDir, fmt.Sprintf("cpu-%s.pprof", time.Now().Format(profileTimeFormat)))
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create cpu profile %q: %v", fn, err)
		return nil
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		glog.Errorf("pprof: could not start cpu profile: %v", err)
		f.Close()
		return nil
	}
	glog.Infof("pprof: cpu profiling enabled, %s", fn)
	return &Profiler{dataDir: dataDir, file: f}
}

// Stop flushes and closes the profile.
func (p *Profiler) Stop() {
	pprof.StopCPUProfile()
	p.file.Close()
	glog.Infof("pprof: cpu profiling disabled")
}

func dumpGoroutines(dataDir string) {
	fn := path.Join(dataDir, fmt.Sprintf("goroutines-%s.dump", time.Now().Format(profileTimeFormat)))
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("failed to dump goroutine profile: %v", err)
		return
	}
	defer f.Close()
	if err := pprof.Lookup("goroutine").WriteTo(f, 2); err != nil {
		glog.Errorf("failed to write goroutine profile to %s: %v", fn, err)
	}
}
