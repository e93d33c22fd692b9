// Package model defines the wire and in-memory shapes shared across the
// SDK: flag state, evaluation context, evaluation results, and the
// canonical JSON rendering used for signed payloads.
package model

import "fmt"

// FlagType identifies the shape of a FlagState's Value.
type FlagType string

const (
	FlagTypeBoolean FlagType = "boolean"
	FlagTypeString  FlagType = "string"
	FlagTypeNumber  FlagType = "number"
	FlagTypeJSON    FlagType = "json"
)

// FlagState is the authoritative unit handed between the transport,
// store, and evaluator. Value holds a bool, string, float64,
// map[string]interface{}, []interface{}, or nil depending on Type.
type FlagState struct {
	Key          string                 `json:"key"`
	Value        interface{}            `json:"value"`
	Enabled      bool                   `json:"enabled"`
	Version      int64                  `json:"version"`
	FlagType     FlagType               `json:"flagType,omitempty"`
	LastModified string                 `json:"lastModified,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// InferredType returns FlagType if set, otherwise infers it from Value.
func (f FlagState) InferredType() FlagType {
	if f.FlagType != "" {
		return f.FlagType
	}
	switch f.Value.(type) {
	case bool:
		return FlagTypeBoolean
	case string:
		return FlagTypeString
	case float64, int, int64:
		return FlagTypeNumber
	case nil:
		return FlagTypeJSON
	default:
		return FlagTypeJSON
	}
}

// Clone returns a snapshot safe to hand to a caller; Value itself is not
// deep-copied for map/slice variants since callers must not mutate it.
func (f FlagState) Clone() FlagState {
	return f
}

func (f FlagState) String() string {
	return fmt.Sprintf("FlagState{key=%s, type=%s, version=%d}", f.Key, f.InferredType(), f.Version)
}
