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
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/lspengine/pkg/logging"
)

// DocumentSession is the client's view of one open document.
type DocumentSession struct {
	URI        string
	Version    int
	LanguageID string
}

// notifier sends notifications to the server. *Correlator implements it.
type notifier interface {
	SendNotification(method string, params interface{}) error
}

// documentSet tracks open documents and their versions.
//
// The lock is held while the notification is written, so versions reach
// the server in the order they were assigned. A version is only committed
// once its notification was written.
type documentSet struct {
	mu   sync.Mutex
	docs map[string]*DocumentSession
}

func newDocumentSet() *documentSet {
	return &documentSet{docs: make(map[string]*DocumentSession)}
}

// open sends didOpen for a new uri (version 1) or a full-text didChange for
// a known one (version + 1). It returns the version now held by the server.
func (d *documentSet) open(n notifier, uri, text, languageID string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if doc, ok := d.docs[uri]; ok {
		next := doc.Version + 1
		err := n.SendNotification(MethodDidChange, DidChangeTextDocumentParams{
			TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: next},
			ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
		})
		if err != nil {
			return doc.Version, err
		}
		doc.Version = next
		return next, nil
	}

	err := n.SendNotification(MethodDidOpen, DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       text,
		},
	})
	if err != nil {
		return 0, err
	}
	d.docs[uri] = &DocumentSession{URI: uri, Version: 1, LanguageID: languageID}
	return 1, nil
}

// close sends didClose for a known uri and forgets it. It reports whether
// the uri was open.
func (d *documentSet) close(n notifier, uri string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.docs[uri]; !ok {
		return false, nil
	}
	delete(d.docs, uri)
	err := n.SendNotification(MethodDidClose, DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
	return true, err
}

// closeAll sends didClose for every open document, logging failures, and
// empties the set.
func (d *documentSet) closeAll(n notifier, sink logging.Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, uri := range d.sortedLocked() {
		err := n.SendNotification(MethodDidClose, DidCloseTextDocumentParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
		})
		if err != nil {
			sink.Log(logging.LevelWarning, fmt.Sprintf("lsp: closing %s during shutdown: %v", uri, err))
		}
	}
	d.docs = make(map[string]*DocumentSession)
}

func (d *documentSet) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs = make(map[string]*DocumentSession)
}

func (d *documentSet) isOpen(uri string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.docs[uri]
	return ok
}

func (d *documentSet) get(uri string) (DocumentSession, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[uri]
	if !ok {
		return DocumentSession{}, false
	}
	return *doc, true
}

func (d *documentSet) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sortedLocked()
}

func (d *documentSet) sortedLocked() []string {
	uris := make([]string, 0, len(d.docs))
	for uri := range d.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}
