package computeproto

import "encoding/json"

type RequestContext struct {
	RequestId string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type JoinHop struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Key  string `json:"key,omitempty"`
}

type QueryRequest struct {
	DatasetId string          `json:"dataset_id,omitempty"`
	Workflow  json.RawMessage `json:"workflow,omitempty"`
	Joins     []*JoinHop      `json:"joins,omitempty"`
	Context   *RequestContext `json:"context,omitempty"`
}

type JoinPath struct {
	Hops []*JoinHop `json:"hops,omitempty"`
}

type QueryResponse struct {
	Data           json.RawMessage `json:"data,omitempty"`
	RowCount       int64           `json:"row_count,omitempty"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ErrorField     string          `json:"error_field,omitempty"`
	JoinTo         string          `json:"join_to,omitempty"`
	JoinReason     string          `json:"join_reason,omitempty"`
	JoinCandidates []*JoinPath     `json:"join_candidates,omitempty"`
}

type HealthRequest struct{}

type HealthResponse struct {
	Status        string `json:"status,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Backend       string `json:"backend,omitempty"`
	Datasets      int32  `json:"datasets,omitempty"`
	DuckdbVersion string `json:"duckdb_version,omitempty"`
}

type ListDatasetsRequest struct{}

type DatasetInfo struct {
	Id       string          `json:"id,omitempty"`
	Fields   json.RawMessage `json:"fields,omitempty"`
	RowCount int64           `json:"row_count,omitempty"`
}

type ListDatasetsResponse struct {
	Datasets []*DatasetInfo `json:"datasets,omitempty"`
}
