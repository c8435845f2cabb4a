package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Row maps field ids to scalar values (float64, string, bool or nil).
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is an in-memory row set with its raw field definitions.
type Dataset struct {
	ID     string
	Fields []Field
	Rows   []Row
}

// Relationship declares that dataset From can be joined onto dataset To
// through the shared key field Key.
type Relationship struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Key  string `json:"key" yaml:"key"`
}

// JoinHop is one step on the path from a dataset to the primary dataset.
type JoinHop struct {
	From string `json:"from"`
	To   string `json:"to"`
	Key  string `json:"key"`
}

// Computation modes.
const (
	ModeClient = "client"
	ModeServer = "server"
)

// Remote transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// ComputationConfig selects the engine that executes a workflow. On the wire
// it is either the literal "client" or an object with mode "server".
type ComputationConfig struct {
	Mode      string        `json:"mode" yaml:"mode"`
	Server    string        `json:"server,omitempty" yaml:"server,omitempty"`
	APIKey    string        `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Transport string        `json:"transport,omitempty" yaml:"transport,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ClientComputation is the default in-process configuration.
func ClientComputation() ComputationConfig {
	return ComputationConfig{Mode: ModeClient}
}

// UnmarshalJSON accepts either a bare mode string or the structured form.
func (c *ComputationConfig) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var mode string
		if err := json.Unmarshal(data, &mode); err != nil {
			return err
		}
		*c = ComputationConfig{Mode: mode}
		return nil
	}
	type plain ComputationConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ComputationConfig(p)
	return nil
}

// UnmarshalYAML accepts either a bare mode string or the structured form.
func (c *ComputationConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var mode string
	if err := unmarshal(&mode); err == nil {
		*c = ComputationConfig{Mode: mode}
		return nil
	}
	type plain ComputationConfig
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*c = ComputationConfig(p)
	return nil
}

// Validate checks the configuration for the selected mode.
func (c ComputationConfig) Validate() error {
	switch c.Mode {
	case ModeClient:
		return nil
	case ModeServer:
		if strings.TrimSpace(c.Server) == "" {
			return ErrValidation("server computation requires a server address")
		}
		switch c.Transport {
		case "", TransportHTTP, TransportGRPC:
		default:
			return ErrValidation("unknown transport %q (http or grpc)", c.Transport)
		}
		return nil
	case "":
		return ErrValidation("computation mode is required")
	default:
		return ErrValidation("unknown computation mode %q (client or server)", c.Mode)
	}
}

// RenderStatus is reported to the embedding UI once per stage of a compute cycle.
type RenderStatus string

// Render statuses.
const (
	StatusIdle      RenderStatus = "idle"
	StatusComputing RenderStatus = "computing"
	StatusRendering RenderStatus = "rendering"
	StatusError     RenderStatus = "error"
)

// QueryRequest is a compiled workflow bound to the dataset it runs against.
type QueryRequest struct {
	DatasetID string
	Workflow  Workflow
	Joins     []JoinHop
}

// ComputeExecutor runs compiled workflows on one backend.
type ComputeExecutor interface {
	Query(ctx context.Context, req QueryRequest) ([]Row, error)
}
