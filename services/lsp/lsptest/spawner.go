// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsptest

import (
	"context"
	"sync"

	"github.com/AleutianAI/lspengine/services/lsp"
)

// Spawner is an lsp.Spawner that starts in-memory Servers.
//
// Every Spawn creates a fresh Server and runs Setup on it before handing
// it to the client, so scripted handlers survive restarts.
type Spawner struct {
	// Setup configures each new server. Optional.
	Setup func(*Server)

	// Err, when set, makes Spawn fail.
	Err error

	mu      sync.Mutex
	servers []*Server
	specs   []lsp.ProcessSpec
}

// Spawn implements lsp.Spawner.
func (sp *Spawner) Spawn(ctx context.Context, spec lsp.ProcessSpec) (lsp.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.specs = append(sp.specs, spec)
	if sp.Err != nil {
		return nil, sp.Err
	}
	s := NewServer()
	if sp.Setup != nil {
		sp.Setup(s)
	}
	sp.servers = append(sp.servers, s)
	return s, nil
}

// Servers returns every server spawned so far.
func (sp *Spawner) Servers() []*Server {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return append([]*Server(nil), sp.servers...)
}

// Last returns the most recently spawned server, or nil.
func (sp *Spawner) Last() *Server {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.servers) == 0 {
		return nil
	}
	return sp.servers[len(sp.servers)-1]
}

// Specs returns the process specs passed to Spawn.
func (sp *Spawner) Specs() []lsp.ProcessSpec {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return append([]lsp.ProcessSpec(nil), sp.specs...)
}
