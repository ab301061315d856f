// Package sandbox runs untrusted code in short-lived Docker containers.
//
// A Manager owns one engine connection and a registry of images built from
// local build contexts. It offers two execution modes:
//
//   - named image runs, where a registered image is run with CLI arguments
//     as its command and stdout/stderr are taken from the container log;
//   - script runs, where source code is written into a per-run workspace,
//     bind-mounted into the interpreter image and its stdout is read back
//     from an output file.
//
// Every run is bounded by a timeout, and its container and workspace are
// removed before the run returns.
//
// Usage:
//
//	engine, err := sandbox.NewEngine(logger)
//	manager := sandbox.NewManager(logger, engine, sandbox.Options{
//	    Timeout:      5 * time.Second,
//	    TarDir:       "docker/tar",
//	    WorkspaceDir: "sandbox",
//	    ScriptImage:  "python:3.12-slim",
//	})
//	_ = manager.RegisterBuildSpec(sandbox.BuildSpec{Name: "hello-world", ContextDir: "./docker/hello-world"})
//	err = manager.BuildAll(ctx)
//	result, err := manager.Run(ctx, sandbox.ScriptRun{Source: "print('Hello, World!')"})
package sandbox
