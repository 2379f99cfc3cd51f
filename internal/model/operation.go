package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidOperation is returned when an operation is missing required
// arguments or has an unknown kind.
var ErrInvalidOperation = errors.New("invalid operation")

// OpKind names one of the tagging operations a job can carry.
type OpKind string

// Operation kinds.
const (
	KindTagText   OpKind = "tag_text"
	KindTagFile   OpKind = "tag_file"
	KindTagFileTo OpKind = "tag_file_to"
)

// DefaultEncoding is used for file operations that leave Encoding empty.
const DefaultEncoding = "utf-8"

// Options are the tagging flags forwarded untouched to the engine.
type Options struct {
	NumLines    bool `json:"numlines,omitempty"`
	TagOnly     bool `json:"tagonly,omitempty"`
	PrepOnly    bool `json:"prepronly,omitempty"`
	TagBlanks   bool `json:"tagblanks,omitempty"`
	NoTagURL    bool `json:"notagurl,omitempty"`
	NoTagEmail  bool `json:"notagemail,omitempty"`
	NoTagIP     bool `json:"notagip,omitempty"`
	NoTagDNS    bool `json:"notagdns,omitempty"`
	NoSGMLSplit bool `json:"nosgmlsplit,omitempty"`
}

// Operation is the closed set of requests a job can carry. Only the types in
// this package implement it.
type Operation interface {
	Kind() OpKind
	Validate() error
	operation()
}

// TagText tags an in-memory text.
type TagText struct {
	Text    string  `json:"text"`
	Options Options `json:"options"`
}

// TagFile reads a file, decodes it and tags its content.
type TagFile struct {
	InPath   string  `json:"in_path"`
	Encoding string  `json:"encoding,omitempty"`
	Options  Options `json:"options"`
}

// TagFileTo tags a file and writes the tagged lines to OutPath.
type TagFileTo struct {
	InPath   string  `json:"in_path"`
	OutPath  string  `json:"out_path"`
	Encoding string  `json:"encoding,omitempty"`
	Options  Options `json:"options"`
}

func (TagText) Kind() OpKind   { return KindTagText }
func (TagFile) Kind() OpKind   { return KindTagFile }
func (TagFileTo) Kind() OpKind { return KindTagFileTo }

func (TagText) operation()   {}
func (TagFile) operation()   {}
func (TagFileTo) operation() {}

// Validate accepts any text, including the empty string.
func (TagText) Validate() error { return nil }

func (o TagFile) Validate() error {
	if o.InPath == "" {
		return fmt.Errorf("%w: %s requires in_path", ErrInvalidOperation, KindTagFile)
	}
	return nil
}

func (o TagFileTo) Validate() error {
	if o.InPath == "" {
		return fmt.Errorf("%w: %s requires in_path", ErrInvalidOperation, KindTagFileTo)
	}
	if o.OutPath == "" {
		return fmt.Errorf("%w: %s requires out_path", ErrInvalidOperation, KindTagFileTo)
	}
	return nil
}

// Output is the value a successful job produces. File-to-file jobs leave
// Lines empty and report where the result was written.
type Output struct {
	Lines   []string `json:"lines,omitempty"`
	OutPath string   `json:"out_path,omitempty"`
}

// Envelope is the serialized form of an Operation: its kind plus its
// arguments as raw JSON.
type Envelope struct {
	Kind OpKind          `json:"kind"`
	Args json.RawMessage `json:"args"`
}

// EncodeOperation wraps op into an Envelope.
func EncodeOperation(op Operation) (Envelope, error) {
	if op == nil {
		return Envelope{}, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	args, err := json.Marshal(op)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s args: %w", op.Kind(), err)
	}
	return Envelope{Kind: op.Kind(), Args: args}, nil
}

// Snapshot returns a validated copy of op that shares no memory with the
// caller. Pointer operations are dereferenced.
func Snapshot(op Operation) (Operation, error) {
	var snap Operation
	switch o := op.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	case TagText:
		snap = o
	case TagFile:
		snap = o
	case TagFileTo:
		snap = o
	case *TagText:
		if o == nil {
			return nil, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
		}
		snap = *o
	case *TagFile:
		if o == nil {
			return nil, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
		}
		snap = *o
	case *TagFileTo:
		if o == nil {
			return nil, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
		}
		snap = *o
	default:
		return nil, fmt.Errorf("%w: unsupported operation %T", ErrInvalidOperation, op)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// DecodeOperation rebuilds the Operation carried by env and validates it.
func DecodeOperation(env Envelope) (Operation, error) {
	var op Operation
	switch env.Kind {
	case KindTagText:
		var o TagText
		if err := unmarshalArgs(env.Args, &o); err != nil {
			return nil, err
		}
		op = o
	case KindTagFile:
		var o TagFile
		if err := unmarshalArgs(env.Args, &o); err != nil {
			return nil, err
		}
		op = o
	case KindTagFileTo:
		var o TagFileTo
		if err := unmarshalArgs(env.Args, &o); err != nil {
			return nil, err
		}
		op = o
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, env.Kind)
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func unmarshalArgs(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode args: %v", ErrInvalidOperation, err)
	}
	return nil
}
