package patchbay

import (
	"encoding/json"
	"fmt"
)

// Describe snapshots the session as a document: every node's effective spec,
// the edge set, and the transport settings. The returned document is detached
// from live state and marshals with encoding/json.
func (e *Engine) Describe() Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	nodes, edges := e.graph.Describe()
	return Document{
		Tempo:        e.transport.Tempo(),
		StepsPerBeat: e.transport.StepsPerBeat(),
		Nodes:        nodes,
		Edges:        edges,
	}
}

// LoadDocument parses a JSON session document and applies it, reconciling
// nodes, edges, and transport settings against the current state.
func (e *Engine) LoadDocument(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	return e.Apply(doc)
}
