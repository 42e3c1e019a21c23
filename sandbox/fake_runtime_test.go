package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/runbox/config"
)

// fakeRuntime implements CommandRunner as an in-memory docker CLI. Program
// behaviour is chosen by markers in the submitted source:
//
//	SYNTAX_ERROR  build exits 1 with a compiler message
//	SLOW_BUILD    build blocks until its context ends
//	LOOP          run blocks until its context ends, leaving the container alive
//	SLEEP         run takes 50ms
//	EXIT3         run writes "boom" to stderr and exits 3
//	WARN          run writes "warning" to stderr and exits 0
//	NO_START      run exits 125 as if the runtime could not start the container
//	EXIT125       run writes "bye" to stderr and exits 125 itself
//
// print("...") lines are echoed to stdout.
type fakeRuntime struct {
	mu         sync.Mutex
	images     map[string]string // tag -> source
	containers map[string]bool
	killed     []string
	calls      [][]string

	builtTags      []string
	runNames       []string
	workspaces     []string
	workspaceFiles map[string][]string // tag -> file names at build time

	inflight int
	peak     int

	runStarted chan string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		images:         make(map[string]string),
		containers:     make(map[string]bool),
		workspaceFiles: make(map[string][]string),
		runStarted:     make(chan string, 64),
	}
}

var printPattern = regexp.MustCompile(`print\("([^"]*)"\)`)

func (f *fakeRuntime) RunCommand(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()

	if len(args) < 2 {
		return 0, fmt.Errorf("no command provided")
	}

	switch args[1] {
	case "build":
		return f.build(ctx, args, stderr)
	case "run":
		return f.run(ctx, args, stdout, stderr)
	case "kill":
		return f.kill(args[len(args)-1], stderr)
	case "rm":
		return f.remove(args[len(args)-1], stderr)
	case "rmi":
		return f.removeImage(args[len(args)-1], stderr)
	case "ps":
		f.mu.Lock()
		defer f.mu.Unlock()
		for name := range f.containers {
			fmt.Fprintln(stdout, name)
		}
		return 0, nil
	case "images":
		f.mu.Lock()
		defer f.mu.Unlock()
		for tag := range f.images {
			fmt.Fprintln(stdout, tag)
		}
		return 0, nil
	default:
		return 1, nil
	}
}

func (f *fakeRuntime) enter() func() {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func (f *fakeRuntime) build(ctx context.Context, args []string, stderr io.Writer) (int, error) {
	defer f.enter()()

	tag := flagValue(args, "--tag")
	workspace := args[len(args)-1]

	entries, err := os.ReadDir(workspace)
	if err != nil {
		fmt.Fprintf(stderr, "unable to prepare context: %v\n", err)
		return 1, nil
	}
	var files []string
	var source string
	for _, entry := range entries {
		files = append(files, entry.Name())
		switch entry.Name() {
		case FilenamePython, FilenameNodeJS, FilenameGo, FilenameCPP:
			data, readErr := os.ReadFile(filepath.Join(workspace, entry.Name()))
			if readErr != nil {
				return 1, nil
			}
			source = string(data)
		}
	}

	f.mu.Lock()
	f.builtTags = append(f.builtTags, tag)
	f.workspaces = append(f.workspaces, workspace)
	f.workspaceFiles[tag] = files
	f.mu.Unlock()

	if strings.Contains(source, "SLOW_BUILD") {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	if strings.Contains(source, "SYNTAX_ERROR") {
		fmt.Fprintln(stderr, "#7 [4/4] RUN node --check index.js")
		fmt.Fprintln(stderr, "SyntaxError: Unexpected token ')'")
		return 1, nil
	}

	f.mu.Lock()
	f.images[tag] = source
	f.mu.Unlock()
	return 0, nil
}

func (f *fakeRuntime) run(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	defer f.enter()()

	name := flagValue(args, "--name")
	tag := args[len(args)-1]

	f.mu.Lock()
	source, ok := f.images[tag]
	if ok {
		f.containers[name] = true
		f.runNames = append(f.runNames, name)
	}
	f.mu.Unlock()

	if !ok || strings.Contains(source, "NO_START") {
		fmt.Fprintf(stderr, "Unable to find image '%s' locally\n", tag)
		f.forget(name)
		return 125, nil
	}

	f.runStarted <- name

	for _, match := range printPattern.FindAllStringSubmatch(source, -1) {
		fmt.Fprintln(stdout, match[1])
	}

	switch {
	case strings.Contains(source, "LOOP"):
		// The CLI dies with the context; the container keeps running
		<-ctx.Done()
		return -1, ctx.Err()
	case strings.Contains(source, "SLEEP"):
		time.Sleep(50 * time.Millisecond)
	}

	// --rm
	f.forget(name)

	switch {
	case strings.Contains(source, "EXIT3"):
		fmt.Fprintln(stderr, "boom")
		return 3, nil
	case strings.Contains(source, "EXIT125"):
		fmt.Fprintln(stderr, "bye")
		return 125, nil
	case strings.Contains(source, "WARN"):
		fmt.Fprintln(stderr, "warning")
		fmt.Fprintln(stdout, "done")
	}
	return 0, nil
}

func (f *fakeRuntime) forget(name string) {
	f.mu.Lock()
	delete(f.containers, name)
	f.mu.Unlock()
}

func (f *fakeRuntime) kill(name string, stderr io.Writer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.containers[name] {
		fmt.Fprintf(stderr, "Error response from daemon: No such container: %s\n", name)
		return 1, nil
	}
	f.killed = append(f.killed, name)
	// --rm removes it once it stops
	delete(f.containers, name)
	return 0, nil
}

func (f *fakeRuntime) remove(name string, stderr io.Writer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.containers[name] {
		fmt.Fprintf(stderr, "Error response from daemon: No such container: %s\n", name)
		return 1, nil
	}
	delete(f.containers, name)
	return 0, nil
}

func (f *fakeRuntime) removeImage(tag string, stderr io.Writer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.images[tag]; !ok {
		fmt.Fprintf(stderr, "Error response from daemon: No such image: %s\n", tag)
		return 1, nil
	}
	delete(f.images, tag)
	return 0, nil
}

func (f *fakeRuntime) countCalls(verb string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if len(call) > 1 && call[1] == verb {
			n++
		}
	}
	return n
}

func (f *fakeRuntime) lastCall(verb string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if len(f.calls[i]) > 1 && f.calls[i][1] == verb {
			return f.calls[i]
		}
	}
	return nil
}

// assertNoLeaks checks that every image, container and workspace is gone
func assertNoLeaks(t *testing.T, f *fakeRuntime, baseDir string) {
	t.Helper()

	f.mu.Lock()
	assert.Empty(t, f.images, "leaked images")
	assert.Empty(t, f.containers, "leaked containers")
	f.mu.Unlock()

	entries, err := os.ReadDir(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "leaked workspaces")
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Sandbox: config.SandboxConfig{
			Runtime:           "docker",
			BaseDir:           t.TempDir(),
			TimeoutSec:        5,
			DeadlineSec:       30,
			MaxDeadlineSec:    60,
			MemoryMB:          128,
			CPUs:              0.5,
			PidsLimit:         32,
			MaxConcurrent:     4,
			QueueTimeoutSec:   5,
			CleanupTimeoutSec: 5,
			MaxLogBytes:       4096,
			MaxCodeBytes:      4096,
		},
		Manifest: config.ManifestConfig{TimeoutSec: 5},
	}
}
