// -----------------------------------------------------------------------
// Crash Reporting - fatal panic capture for post-mortem analysis
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// crashDir is where fatal crash reports are written. SetupLogger points it
// at the same logs directory the file writer uses, so operators find crash
// reports next to imscrawl.log.
var crashDir = "./logs"

// SetCrashDir redirects crash reports to dir, creating it if needed. An
// empty dir or a directory that cannot be created leaves the previous
// location in place.
func SetCrashDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "crash reporting: cannot create %s: %v\n", dir, err)
		return
	}
	crashDir = dir
}

// RecoverWithCrashFile is the process-level last line of defense: deferred
// at the top of main, it turns an otherwise-silent panic into a crash
// report on disk before exiting nonzero.
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, CurrentStack())
		os.Exit(1)
	}
}

// WriteCrashFile dumps the panic value, stacks, and process state to a
// timestamped file under the crash directory, echoing everything to stderr
// when the file cannot be written. Returns the report path, or "" when
// only stderr got it.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	report := buildCrashReport(panicVal, stackTrace)
	path := filepath.Join(crashDir, fmt.Sprintf("crash-%s.log", time.Now().Format("2006-01-02T15-04-05")))

	if err := os.WriteFile(path, []byte(report), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "crash reporting: cannot write %s: %v\n%s", path, err, report)
		return ""
	}

	fmt.Fprintf(os.Stderr, "\nfatal crash, report saved to %s\npanic: %v\n", path, panicVal)
	return path
}

func buildCrashReport(panicVal interface{}, stackTrace string) string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var b strings.Builder
	section := func(title, body string) {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", title, strings.TrimRight(body, "\n"))
	}

	fmt.Fprintf(&b, "imscrawl crash report\n")
	fmt.Fprintf(&b, "time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "version: %s\n", GetFullVersion())
	fmt.Fprintf(&b, "runtime: %s %s/%s, %d goroutines on %d cpus\n\n",
		runtime.Version(), runtime.GOOS, runtime.GOARCH, runtime.NumGoroutine(), runtime.NumCPU())

	section("panic", fmt.Sprintf("%v", panicVal))
	section("stack", stackTrace)
	section("all goroutines", AllStacks())
	section("memory", fmt.Sprintf("alloc=%dMB total_alloc=%dMB sys=%dMB num_gc=%d",
		memStats.Alloc>>20, memStats.TotalAlloc>>20, memStats.Sys>>20, memStats.NumGC))

	return b.String()
}

// CurrentStack returns the calling goroutine's stack trace.
func CurrentStack() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// AllStacks returns stack traces for every goroutine, growing the buffer
// until the dump fits (capped at 64MB).
func AllStacks() string {
	for size := 64 * 1024; ; size *= 2 {
		buf := make([]byte, size)
		n := runtime.Stack(buf, true)
		if n < size || size >= 64*1024*1024 {
			return string(buf[:n])
		}
	}
}
