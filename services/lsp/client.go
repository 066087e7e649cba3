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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/lspengine/pkg/logging"
	"github.com/AleutianAI/lspengine/pkg/telemetry"
)

const (
	// DefaultClientName is sent as clientInfo.name during initialize.
	DefaultClientName = "lspengine"

	// DefaultClientVersion is sent as clientInfo.version during initialize.
	DefaultClientVersion = "0.1.0"

	// closeTimeout bounds the graceful shutdown attempted by Close.
	closeTimeout = 5 * time.Second
)

// =============================================================================
// CLIENT STATE
// =============================================================================

// ClientState is the lifecycle state of a Client.
type ClientState int

const (
	// StateUnstarted is the state before Start.
	StateUnstarted ClientState = iota

	// StateStarted means a server process is running but not initialized.
	StateStarted

	// StateInitialized means the handshake completed; documents and
	// queries are accepted.
	StateInitialized

	// StateShuttingDown means Shutdown is in progress.
	StateShuttingDown

	// StateStopped means the server was shut down or exited.
	StateStopped
)

// String returns a human-readable state name.
func (s ClientState) String() string {
	names := []string{"unstarted", "started", "initialized", "shutting_down", "stopped"}
	if int(s) >= 0 && int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CONFIG
// =============================================================================

// ClientConfig configures a Client.
type ClientConfig struct {
	// Command is the language server executable. Required unless Spawner
	// ignores it.
	Command string

	// Args are passed to Command.
	Args []string

	// Dir is the server's working directory.
	Dir string

	// Env entries are appended to the inherited environment.
	Env []string

	// ClientName and ClientVersion are reported in clientInfo.
	ClientName    string
	ClientVersion string

	// InitializationOptions is sent verbatim in initialize.
	InitializationOptions interface{}

	// RequestTimeout bounds each request. Default: DefaultRequestTimeout.
	RequestTimeout time.Duration

	// MaxFrameSize and MaxBufferSize configure the frame decoder.
	MaxFrameSize  int
	MaxBufferSize int

	// QueueSize is the inbound message queue capacity. Default: DefaultQueueSize.
	QueueSize int

	// Spawner starts the server. Default: ExecSpawner.
	Spawner Spawner

	// Sink receives every log line the engine produces. Default: logging.Nop().
	Sink logging.Sink
}

// =============================================================================
// CLIENT
// =============================================================================

// Client drives one language server on behalf of a host.
//
// Description:
//
//	Client owns the server process and all state tied to it: the current
//	session (pipes, decoder, queue, correlator), the open documents and
//	the diagnostics store. Lifecycle transitions are serialized by mu;
//	Restart and Close are additionally serialized by restartMu.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	config  ClientConfig
	sink    logging.Sink
	spawner Spawner

	mu         sync.RWMutex
	state      ClientState
	sess       *session
	caps       ServerCapabilities
	serverInfo *ServerInfo
	rootDir    string
	closed     bool

	restartMu sync.Mutex
	initGroup singleflight.Group

	docs  *documentSet
	diags *DiagnosticsStore
}

// NewClient creates a Client. No process is started.
func NewClient(config ClientConfig) *Client {
	if config.Sink == nil {
		config.Sink = logging.Nop()
	}
	if config.Spawner == nil {
		config.Spawner = ExecSpawner{}
	}
	if config.ClientName == "" {
		config.ClientName = DefaultClientName
	}
	if config.ClientVersion == "" {
		config.ClientVersion = DefaultClientVersion
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	return &Client{
		config:  config,
		sink:    config.Sink,
		spawner: config.Spawner,
		state:   StateUnstarted,
		docs:    newDocumentSet(),
		diags:   NewDiagnosticsStore(config.Sink),
	}
}

// Start spawns the server process.
//
// Description:
//
//	Transitions Unstarted -> Started. Wires stdout into the decoder,
//	stderr into debug logging and process exit into a notice log. No
//	protocol traffic is sent.
//
// Errors:
//
//	ErrAlreadyStarted - State is not Unstarted
//	ErrClosed - Close was called
//	ErrServerNotInstalled - Command not found (ExecSpawner)
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateUnstarted {
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, c.state)
	}
	return c.startLocked(ctx)
}

// startLocked spawns a process and installs a fresh session. The state is
// left unchanged on failure. Caller holds mu.
func (c *Client) startLocked(ctx context.Context) error {
	spec := ProcessSpec{
		Command: c.config.Command,
		Args:    c.config.Args,
		Dir:     c.config.Dir,
		Env:     c.config.Env,
	}

	proc, err := c.spawner.Spawn(ctx, spec)
	recordServerSpawn(ctx, c.config.Command, err == nil)
	if err != nil {
		c.sink.Log(logging.LevelError, fmt.Sprintf("lsp: failed to start %s: %v", c.config.Command, err))
		return fmt.Errorf("start %s: %w", c.config.Command, err)
	}

	sess := newSession(proc, sessionConfig{
		requestTimeout: c.config.RequestTimeout,
		maxFrameSize:   c.config.MaxFrameSize,
		maxBufferSize:  c.config.MaxBufferSize,
		queueSize:      c.config.QueueSize,
		sink:           c.sink,
		onNotification: c.handleNotification,
		onExit:         c.handleExit,
	})
	c.sess = sess
	sess.run()

	c.sink.Log(logging.LevelNotice, fmt.Sprintf("lsp: started %s (pid %d)", c.config.Command, proc.Pid()))
	c.setStateLocked(StateStarted)
	return nil
}

// Initialize performs the initialize handshake.
//
// Description:
//
//	Starts the server first when the client is Unstarted. Sends
//	initialize with the client capabilities and workspace rooted at
//	rootDirectory, stores the server capabilities, sends initialized and
//	transitions to Initialized. Concurrent callers share one handshake.
//	Returns nil immediately when already Initialized.
//
// Inputs:
//
//	ctx - Context for cancellation
//	rootDirectory - Workspace root. Empty uses the current directory.
//
// Outputs:
//
//	error - Non-nil when the handshake failed; the state stays Started
func (c *Client) Initialize(ctx context.Context, rootDirectory string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	_, err, _ := c.initGroup.Do("initialize", func() (interface{}, error) {
		return nil, c.initialize(ctx, rootDirectory)
	})
	return err
}

func (c *Client) initialize(ctx context.Context, rootDirectory string) error {
	ctx, span := startOperationSpan(ctx, "Initialize", "")
	defer span.End()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	switch c.state {
	case StateInitialized:
		c.mu.Unlock()
		return nil
	case StateUnstarted:
		if err := c.startLocked(ctx); err != nil {
			c.mu.Unlock()
			return err
		}
	case StateStarted:
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("initialize in state %s: %w", state, ErrNotStarted)
	}
	sess := c.sess
	c.mu.Unlock()

	root, err := resolveRoot(rootDirectory)
	if err != nil {
		return err
	}
	params, err := c.initializeParams(root)
	if err != nil {
		return err
	}

	raw, err := sess.corr.SendRequest(ctx, MethodInitialize, params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		c.sink.Log(logging.LevelError, fmt.Sprintf("lsp: initialize failed: %v", err))
		return fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("parse initialize result: %w", err)
		}
	}

	if err := sess.corr.SendNotification(MethodInitialized, struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	c.mu.Lock()
	if c.sess != sess || c.state != StateStarted {
		c.mu.Unlock()
		return fmt.Errorf("initialize: %w", ErrServerCrashed)
	}
	c.caps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.rootDir = root
	c.setStateLocked(StateInitialized)
	c.mu.Unlock()

	name := "unknown"
	if result.ServerInfo != nil && result.ServerInfo.Name != "" {
		name = result.ServerInfo.Name
	}
	c.sink.Log(logging.LevelNotice, fmt.Sprintf(
		"lsp: initialized %s (root %s, hover=%t completion=%t codeAction=%t)", name, root,
		result.Capabilities.HasHoverProvider(),
		result.Capabilities.HasCompletionProvider(),
		result.Capabilities.HasCodeActionProvider()))
	setOperationSpanResult(span, 1, true)
	return nil
}

// initializeParams builds the initialize request for root.
func (c *Client) initializeParams(root string) (InitializeParams, error) {
	rootURI, err := PathToURI(root)
	if err != nil {
		return InitializeParams{}, err
	}
	return InitializeParams{
		ProcessID: os.Getpid(),
		ClientInfo: &ClientInfo{
			Name:    c.config.ClientName,
			Version: c.config.ClientVersion,
		},
		RootURI:  rootURI,
		RootPath: root,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{},
				Hover: &HoverCapabilities{
					ContentFormat: []string{"plaintext", "markdown"},
				},
				Completion: &CompletionCapabilities{
					CompletionItem: CompletionItemCapabilities{SnippetSupport: false},
				},
				CodeAction: &CodeActionCapabilities{},
				PublishDiagnostics: &PublishDiagnosticsCapabilities{
					RelatedInformation: true,
				},
			},
		},
		InitializationOptions: c.config.InitializationOptions,
		WorkspaceFolders: []WorkspaceFolder{
			{URI: rootURI, Name: filepath.Base(root)},
		},
	}, nil
}

func resolveRoot(rootDirectory string) (string, error) {
	if rootDirectory == "" {
		rootDirectory = "."
	}
	abs, err := filepath.Abs(rootDirectory)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", rootDirectory, err)
	}
	return abs, nil
}

// Shutdown stops the server gracefully.
//
// Description:
//
//	No-op unless Initialized. Clears subscribers, sends didClose for
//	every open document (failures are logged), sends the shutdown
//	request and the exit notification, then forgets the open documents
//	and transitions to Stopped. Stored diagnostics are kept.
//
// Outputs:
//
//	error - The shutdown request failure, if any. The client is Stopped
//	        either way.
func (c *Client) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.mu.Lock()
	if c.state != StateInitialized {
		c.mu.Unlock()
		return nil
	}
	sess := c.sess
	c.setStateLocked(StateShuttingDown)
	c.mu.Unlock()

	c.sink.Log(logging.LevelNotice, "lsp: shutting down server")

	c.diags.ClearSubscribers()
	c.docs.closeAll(sess.corr, c.sink)

	var shutdownErr error
	if _, err := sess.corr.SendRequest(ctx, MethodShutdown, nil); err != nil {
		c.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: shutdown request failed: %v", err))
		shutdownErr = fmt.Errorf("shutdown request: %w", err)
	}
	if err := sess.corr.SendNotification(MethodExit, nil); err != nil {
		c.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: exit notification failed: %v", err))
	}

	c.docs.reset()

	c.mu.Lock()
	c.setStateLocked(StateStopped)
	c.mu.Unlock()
	return shutdownErr
}

// Restart replaces the server process with a fresh one.
//
// Description:
//
//	Shuts down gracefully when Initialized (failures are logged and
//	tolerated), kills the old process if it is still running, and resets
//	every piece of per-process state: decoder buffer, message queue,
//	request ids, pending calls, capabilities, open documents, stored
//	diagnostics and subscribers. A new process is spawned (Started) and,
//	when rootDirectory is non-empty, initialized.
func (c *Client) Restart(ctx context.Context, rootDirectory string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.mu.RLock()
	closed, state := c.closed, c.state
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	restartsTotal.Inc()
	c.sink.Log(logging.LevelNotice, fmt.Sprintf("lsp: restarting server (state %s)", state))

	if state == StateInitialized {
		if err := c.Shutdown(ctx); err != nil {
			c.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: shutdown before restart failed: %v", err))
		}
	}

	c.mu.Lock()
	old := c.sess
	c.sess = nil
	c.mu.Unlock()
	if old != nil {
		old.abandon(ErrServerCrashed)
		old.terminate()
	}

	c.docs.reset()
	c.diags.Reset()

	c.mu.Lock()
	c.caps = ServerCapabilities{}
	c.serverInfo = nil
	c.rootDir = ""
	err := c.startLocked(ctx)
	if err != nil {
		c.setStateLocked(StateStopped)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if rootDirectory != "" {
		return c.Initialize(ctx, rootDirectory)
	}
	return nil
}

// Close shuts the server down if needed, kills the process and releases
// all goroutines. Further lifecycle calls return ErrClosed. Idempotent.
func (c *Client) Close() error {
	c.restartMu.Lock()
	defer c.restartMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	state := c.state
	c.mu.Unlock()

	var err error
	if state == StateInitialized {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		err = c.Shutdown(ctx)
		cancel()
	}

	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.setStateLocked(StateStopped)
	c.mu.Unlock()

	if sess != nil {
		sess.abandon(ErrClosed)
		sess.terminate()
	}
	c.docs.reset()
	c.diags.ClearSubscribers()
	return err
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Capabilities returns the capabilities reported by the server. The zero
// value is returned before initialization.
func (c *Client) Capabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

// ServerInfo returns the server's self-reported name and version, or nil.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.serverInfo == nil {
		return nil
	}
	info := *c.serverInfo
	return &info
}

// RootDirectory returns the workspace root of the current initialization.
func (c *Client) RootDirectory() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rootDir
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// OpenDocument opens uri or, when already open, replaces its content.
//
// Description:
//
//	The first call for a uri sends textDocument/didOpen with version 1.
//	Later calls send textDocument/didChange carrying the full text and
//	the next version.
//
// Errors:
//
//	ErrNotInitialized - Client is not Initialized
func (c *Client) OpenDocument(ctx context.Context, uri, text, languageID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	sess, err := c.requireInitialized()
	if err != nil {
		return err
	}
	_, span := startOperationSpan(ctx, "OpenDocument", uri)
	defer span.End()

	version, err := c.docs.open(sess.corr, uri, text, languageID)
	setOperationSpanResult(span, version, err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("open %s: %w", uri, err)
	}
	return nil
}

// CloseDocument sends textDocument/didClose for an open uri. Closing a uri
// that is not open does nothing.
//
// Errors:
//
//	ErrNotInitialized - Client is not Initialized
func (c *Client) CloseDocument(ctx context.Context, uri string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	sess, err := c.requireInitialized()
	if err != nil {
		return err
	}
	_, span := startOperationSpan(ctx, "CloseDocument", uri)
	defer span.End()

	wasOpen, err := c.docs.close(sess.corr, uri)
	if !wasOpen {
		c.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp: close of %s ignored: not open", uri))
		return nil
	}
	if err != nil {
		return fmt.Errorf("close %s: %w", uri, err)
	}
	return nil
}

// IsDocumentOpen reports whether uri is open.
func (c *Client) IsDocumentOpen(uri string) bool {
	return c.docs.isOpen(uri)
}

// ListOpenDocuments returns the open URIs in sorted order.
func (c *Client) ListOpenDocuments() []string {
	return c.docs.list()
}

// DocumentVersion returns the version last sent for uri.
func (c *Client) DocumentVersion(uri string) (int, bool) {
	doc, ok := c.docs.get(uri)
	return doc.Version, ok
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// GetDiagnostics returns the latest diagnostics for uri. Never nil.
func (c *Client) GetDiagnostics(uri string) []Diagnostic {
	return c.diags.Get(uri)
}

// GetAllDiagnostics returns the latest diagnostics of every uri. Never nil.
func (c *Client) GetAllDiagnostics() map[string][]Diagnostic {
	return c.diags.All()
}

// SubscribeToDiagnostics registers fn for diagnostics changes. fn is called
// once per known uri before this returns.
func (c *Client) SubscribeToDiagnostics(fn DiagnosticsHandler) SubscriptionID {
	return c.diags.Subscribe(fn)
}

// UnsubscribeFromDiagnostics removes a subscription. Unknown ids are ignored.
func (c *Client) UnsubscribeFromDiagnostics(id SubscriptionID) {
	c.diags.Unsubscribe(id)
}

// DiagnosticsSubscriptionDone returns a channel closed when the
// subscription ends: on Unsubscribe, Shutdown, Restart or Close.
func (c *Client) DiagnosticsSubscriptionDone(id SubscriptionID) <-chan struct{} {
	return c.diags.Done(id)
}

// =============================================================================
// INTERNALS
// =============================================================================

// requireInitialized returns the live session or ErrNotInitialized.
func (c *Client) requireInitialized() (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateInitialized || c.sess == nil {
		return nil, fmt.Errorf("%w: state %s", ErrNotInitialized, c.state)
	}
	return c.sess, nil
}

// SendRequest issues an arbitrary request on the current server and waits
// for its raw result.
//
// Description:
//
//	Escape hatch for methods the client does not wrap. Unlike the typed
//	queries it does not require Initialized, only a running process, and
//	it returns request failures to the caller.
//
// Errors:
//
//	ErrNotStarted - No running server process
//	ErrRequestTimeout - No response within the request timeout
//	*ResponseError - The server answered with an error
func (c *Client) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	sess := c.liveSession()
	if sess == nil {
		return nil, ErrNotStarted
	}
	return sess.corr.SendRequest(ctx, method, params)
}

// SendNotification sends an arbitrary notification. Without a running
// server process the call is logged and returns nil.
func (c *Client) SendNotification(method string, params interface{}) error {
	sess := c.liveSession()
	if sess == nil {
		c.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp: dropping notification %s: no running server", method))
		return nil
	}
	return sess.corr.SendNotification(method, params)
}

func (c *Client) liveSession() *session {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil || sess.isExited() {
		return nil
	}
	return sess
}

// handleNotification routes a server notification. Runs on the dispatch
// goroutine.
func (c *Client) handleNotification(msg Message) {
	switch msg.Method {
	case MethodPublishDiagnostics:
		c.diags.handlePublish(msg.Params)
	case MethodLogMessage, MethodShowMessage:
		var params LogMessageParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: malformed %s: %v", msg.Method, err))
			return
		}
		c.sink.Log(levelForMessageType(params.Type), "lsp server: "+params.Message)
	default:
		c.sink.Log(logging.LevelDebug, fmt.Sprintf("lsp: ignoring notification %s", msg.Method))
	}
}

// handleExit reacts to the process going away. An exit while Started or
// Initialized is unexpected: the client moves to Stopped and waits for
// Restart.
func (c *Client) handleExit(sess *session, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return
	}
	if c.state == StateStarted || c.state == StateInitialized {
		c.sink.Log(logging.LevelError, fmt.Sprintf("lsp: server exited unexpectedly in state %s: %v", c.state, err))
		c.setStateLocked(StateStopped)
	}
}

func (c *Client) setStateLocked(state ClientState) {
	if c.state == state {
		return
	}
	c.state = state
	lifecycleTransitions.WithLabelValues(state.String()).Inc()
}
