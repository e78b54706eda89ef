// Package ingest accepts log entries from the network: a tolerant JSON
// datagram parser and the UDP receiver that feeds parsed entries into
// the store.
package ingest

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/vburojevic/uelog/internal/domain"
)

// ParseDatagram converts one UDP payload into an entry. Missing fields
// get engine defaults (source "unknown", category "LogTemp", verbosity
// Log); a field present with the wrong JSON type fails the whole
// datagram. An emitter-written id or received_at is ignored; the store
// owns both.
func ParseDatagram(data []byte) (domain.Entry, error) {
	var entry domain.Entry

	if !gjson.ValidBytes(data) {
		return entry, fmt.Errorf("invalid JSON payload")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return entry, fmt.Errorf("payload is not a JSON object")
	}

	source, err := stringField(root, "source", "unknown")
	if err != nil {
		return entry, err
	}
	category, err := stringField(root, "category", "LogTemp")
	if err != nil {
		return entry, err
	}
	message, err := stringField(root, "message", "")
	if err != nil {
		return entry, err
	}
	verbosityName, err := stringField(root, "verbosity", "Log")
	if err != nil {
		return entry, err
	}
	sessionID, err := stringField(root, "session_id", "")
	if err != nil {
		return entry, err
	}
	instanceID, err := stringField(root, "instance_id", "")
	if err != nil {
		return entry, err
	}

	entry.Source = source
	entry.Category = category
	entry.Message = message
	entry.Verbosity = domain.ParseVerbosity(verbosityName)
	entry.SessionID = sessionID
	entry.InstanceID = instanceID

	if ts := root.Get("timestamp"); ts.Exists() {
		if ts.Type != gjson.Number {
			return entry, fmt.Errorf("field %q must be a number", "timestamp")
		}
		entry.Timestamp = ts.Float()
	}
	if frame := root.Get("frame"); frame.Exists() {
		if frame.Type != gjson.Number {
			return entry, fmt.Errorf("field %q must be a number", "frame")
		}
		v := frame.Int()
		entry.Frame = &v
	}
	if file := root.Get("file"); file.Exists() {
		if file.Type != gjson.String {
			return entry, fmt.Errorf("field %q must be a string", "file")
		}
		v := file.String()
		entry.File = &v
	}
	if line := root.Get("line"); line.Exists() {
		if line.Type != gjson.Number {
			return entry, fmt.Errorf("field %q must be a number", "line")
		}
		v := int(line.Int())
		entry.Line = &v
	}

	return entry, nil
}

func stringField(root gjson.Result, key, fallback string) (string, error) {
	field := root.Get(key)
	if !field.Exists() {
		return fallback, nil
	}
	if field.Type != gjson.String {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return field.String(), nil
}
