package main

import (
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// startProfiling starts CPU profiling and execution tracing for the non-empty
// paths. The returned function stops them and writes a memory profile if
// mempath is set.
func startProfiling(cpupath, mempath, tracepath string) func() {
	var stops []func()

	if cpupath != "" {
		f, err := os.Create(cpupath)
		xcheckf(err, "creating cpu profile")
		err = pprof.StartCPUProfile(f)
		xcheckf(err, "starting cpu profile")
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			closeLog(f, "cpu profile")
		})
	}
	if tracepath != "" {
		f, err := os.Create(tracepath)
		xcheckf(err, "creating trace file")
		err = trace.Start(f)
		xcheckf(err, "starting trace")
		stops = append(stops, func() {
			trace.Stop()
			closeLog(f, "trace file")
		})
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
		if mempath == "" {
			return
		}
		f, err := os.Create(mempath)
		xcheckf(err, "creating memory profile")
		runtime.GC() // Up-to-date statistics.
		err = pprof.WriteHeapProfile(f)
		xcheckf(err, "writing memory profile")
		closeLog(f, "memory profile")
	}
}

func closeLog(f *os.File, what string) {
	if err := f.Close(); err != nil {
		log.Printf("closing %s: %v", what, err)
	}
}
