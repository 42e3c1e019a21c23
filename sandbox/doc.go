// Package sandbox provides secure code execution capabilities.
//
// The sandbox package runs untrusted code in ephemeral containers through a
// docker compatible CLI (Docker or Podman). An Orchestrator drives each
// submission through four steps: the WorkspaceManager writes the source,
// an optional dependency manifest and a Dockerfile into a fresh directory;
// the ImageBuilder builds and tags an image from it; the SandboxRunner runs
// the image with resource limits and no network; and cleanup removes the
// container, the image and the workspace on every path.
//
// Every resource name is derived from a per-request id, so concurrent
// executions never share state. A Reaper removes resources left behind by
// a process that died before its cleanup ran.
//
// Usage:
//
//	executor, err := sandbox.NewExecutor(logger, cfg)
//	result, err := executor.Execute(ctx, sandbox.ExecuteRequest{
//	    Language: "python",
//	    Code:     "print('Hello, World!')",
//	})
//	if err == nil && result.Status != sandbox.StatusSuccess {
//	    fmt.Println(result.FailureMessage())
//	}
package sandbox
