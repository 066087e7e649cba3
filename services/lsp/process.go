// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// =============================================================================
// PROCESS ABSTRACTION
// =============================================================================

// ProcessSpec describes how to launch a language server.
type ProcessSpec struct {
	// Command is the executable name or path.
	Command string

	// Args are passed to Command.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env entries ("KEY=value") are appended to the inherited environment.
	Env []string
}

// Process is a running language server.
//
// Description:
//
//	The engine only needs the three stdio streams, a way to wait for exit
//	and a way to force termination. Tests substitute an in-memory
//	implementation (see package lsptest).
type Process interface {
	// Stdin receives framed client messages.
	Stdin() io.WriteCloser

	// Stdout yields framed server messages.
	Stdout() io.Reader

	// Stderr yields free-form server log output.
	Stderr() io.Reader

	// Pid returns the OS process id, or 0 when there is none.
	Pid() int

	// Wait blocks until the process exits. Call only after Stdout and
	// Stderr have been drained.
	Wait() error

	// Kill terminates the process and anything it spawned.
	Kill() error
}

// Spawner starts server processes.
type Spawner interface {
	Spawn(ctx context.Context, spec ProcessSpec) (Process, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, spec ProcessSpec) (Process, error)

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(ctx context.Context, spec ProcessSpec) (Process, error) {
	return f(ctx, spec)
}

// =============================================================================
// EXEC SPAWNER
// =============================================================================

// ExecSpawner starts servers as OS processes.
//
// Description:
//
//	The process is not bound to the context passed to Spawn: the server
//	outlives the call that started it and is stopped through Kill. On
//	unix the server runs in its own process group so Kill also reaches
//	helper processes it forked.
type ExecSpawner struct{}

// Spawn implements Spawner.
//
// Errors:
//
//	ErrServerNotInstalled - Command not found on PATH
func (ExecSpawner) Spawn(ctx context.Context, spec ProcessSpec) (Process, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotInstalled, spec.Command)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)

	p := &execProcess{cmd: cmd}
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if p.stderr, err = cmd.StderrPipe(); err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Stderr() io.Reader     { return p.stderr }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(p.cmd)
}
