// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package supervisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Workers communicate one terminal JSON document on stdout; everything human
// goes to stderr. A worker that exits non-zero without a parseable document
// is reported through its captured stderr.

// TerminalResult is the single document a worker writes to stdout on exit.
type TerminalResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WriteSuccess emits the terminal document for a finished worker.
func WriteSuccess(w io.Writer, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal worker result: %w", err)
	}
	return json.NewEncoder(w).Encode(TerminalResult{Success: true, Result: payload})
}

// WriteFailure emits the terminal document for a failed worker.
func WriteFailure(w io.Writer, workerErr error) error {
	return json.NewEncoder(w).Encode(TerminalResult{Success: false, Error: workerErr.Error()})
}

// ParseTerminal decodes a worker's captured stdout. The whole capture must be
// exactly one document.
func ParseTerminal(stdout []byte) (*TerminalResult, error) {
	var result TerminalResult
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(stdout)))
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("worker stdout is not a terminal document: %w", err)
	}
	// Trailing content means the worker polluted stdout.
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("worker stdout has trailing content after terminal document")
	}
	return &result, nil
}
