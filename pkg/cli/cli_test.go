package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vizflow/internal/agent"
	"vizflow/internal/compute"
	"vizflow/internal/domain"
)

const testManifest = `
datasets:
  - id: sales
    fields:
      - {fid: region, semanticType: nominal, analyticType: dimension}
      - {fid: sales, semanticType: quantitative, analyticType: measure}
      - {fid: date, semanticType: temporal, analyticType: dimension}
    rows:
      - {region: north, sales: 10, date: "2024-01-05"}
      - {region: north, sales: 5, date: "2024-02-10"}
      - {region: south, sales: 21, date: "2024-01-20"}
      - {region: east, sales: 1, date: "2024-03-01"}
`

const testView = `
dataset: sales
computation: client
fields:
  - {fid: region, semanticType: nominal, analyticType: dimension}
  - {fid: sales, semanticType: quantitative, analyticType: measure}
dimensions: [region]
measures: [sales]
sort: descending
limit: 2
`

type cliEnv struct {
	dir      string
	manifest string
	view     string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := cliEnv{
		dir:      dir,
		manifest: filepath.Join(dir, "datasets.yaml"),
		view:     filepath.Join(dir, "view.yaml"),
	}
	require.NoError(t, os.WriteFile(env.manifest, []byte(testManifest), 0o600))
	require.NoError(t, os.WriteFile(env.view, []byte(testView), 0o600))
	t.Setenv("VIZFLOW_CONFIG_DIR", dir)
	for _, k := range []string{"VIZFLOW_SERVER", "VIZFLOW_TOKEN", "VIZFLOW_TRANSPORT", "VIZFLOW_OUTPUT", "VIZFLOW_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	return env
}

func (e cliEnv) writeView(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func decodeRows(t *testing.T, out string) []domain.Row {
	t.Helper()
	var rows []domain.Row
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	return rows
}

func TestCompileCmd(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := runCLI(t, "", "compile", "--view", env.view)
	require.NoError(t, err)

	var req compute.WorkflowRequest
	require.NoError(t, json.Unmarshal([]byte(out), &req))
	assert.Equal(t, "sales", req.DatasetID)
	require.Len(t, req.Query.Workflow, 3)
	assert.Equal(t, domain.AggregateStep{
		GroupBy:  []string{"region"},
		Measures: []domain.Measure{{FID: "sales", Agg: "sum", As: "sales_sum"}},
	}, req.Query.Workflow[0])
	assert.Equal(t, domain.SortStep{By: []string{"sales_sum"}, Direction: domain.SortDescending}, req.Query.Workflow[1])
	assert.Equal(t, domain.LimitStep{Limit: 2}, req.Query.Workflow[2])
	assert.Empty(t, req.Joins)
}

func TestQueryCmd_Client(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := runCLI(t, "", "query", "--view", env.view, "--datasets", env.manifest, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{
		{"region": "south", "sales_sum": 21.0},
		{"region": "north", "sales_sum": 15.0},
	}, decodeRows(t, out))
}

func TestQueryCmd_TableAndCSV(t *testing.T) {
	env := newCLIEnv(t)

	out, errOut, err := runCLI(t, "", "query", "--view", env.view, "--datasets", env.manifest, "-o", "table")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "REGION")
	assert.Contains(t, lines[0], "SALES_SUM")
	assert.Contains(t, lines[1], "south")
	assert.Contains(t, errOut, "(2 rows)")

	out, _, err = runCLI(t, "", "query", "--view", env.view, "--datasets", env.manifest, "-o", "csv", "--limit", "0")
	require.NoError(t, err)
	assert.Equal(t, "region,sales_sum\nsouth,21\nnorth,15\neast,1\n", out)
}

func TestQueryCmd_Follow(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := runCLI(t, "3\n1\n", "query", "--view", env.view, "--datasets", env.manifest,
		"-o", "json", "--follow", "--debounce", "1h")
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{{"region": "south", "sales_sum": 21.0}}, decodeRows(t, out))
}

func TestQueryCmd_Server(t *testing.T) {
	env := newCLIEnv(t)
	const token = "cli-test-token"

	backend := agent.NewMemoryBackend(compute.Engine{}, domain.Dataset{
		ID: "sales",
		Fields: []domain.Field{
			{FID: "region", SemanticType: domain.SemanticNominal, AnalyticType: domain.AnalyticDimension},
			{FID: "sales", SemanticType: domain.SemanticQuantitative, AnalyticType: domain.AnalyticMeasure},
		},
		Rows: []domain.Row{
			{"region": "west", "sales": 3.0},
			{"region": "west", "sales": 4.0},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(agent.NewHandler(ctx, agent.HandlerConfig{Backend: backend, AgentToken: token}))
	t.Cleanup(srv.Close)

	out, _, err := runCLI(t, "", "query", "--view", env.view, "--server", srv.URL, "--token", token, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{{"region": "west", "sales_sum": 7.0}}, decodeRows(t, out))

	out, _, err = runCLI(t, "", "datasets", "--server", srv.URL, "--token", token, "-o", "json")
	require.NoError(t, err)
	var resp compute.DatasetsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Datasets, 1)
	assert.Equal(t, 2, resp.Datasets[0].RowCount)

	_, _, err = runCLI(t, "", "query", "--view", env.view, "--server", srv.URL, "--token", "wrong", "-o", "json")
	require.Error(t, err)
	assert.ErrorIs(t, err, compute.ErrUnauthorized)
}

func TestQueryCmd_Errors(t *testing.T) {
	env := newCLIEnv(t)

	t.Run("client mode needs datasets", func(t *testing.T) {
		_, _, err := runCLI(t, "", "query", "--view", env.view)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("unknown channel field", func(t *testing.T) {
		view := env.writeView(t, "bad.yaml", "dataset: sales\ndimensions: [nope]\n")
		_, _, err := runCLI(t, "", "query", "--view", view, "--datasets", env.manifest)
		var uerr *domain.UnknownFieldError
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, "nope", uerr.Field)
	})

	t.Run("bad output format", func(t *testing.T) {
		_, _, err := runCLI(t, "", "version", "-o", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format")
	})
}

func TestSampleCmd(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := runCLI(t, "", "sample", "--datasets", env.manifest, "--dataset", "sales", "--field", "date", "-o", "json")
	require.NoError(t, err)
	var report sampleReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "%Y-%m-%d", report.Format)
	assert.Len(t, report.Samples, 4)
}

func TestDatasetsCmd_Local(t *testing.T) {
	env := newCLIEnv(t)

	out, _, err := runCLI(t, "", "datasets", "--datasets", env.manifest, "-o", "table")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[1], "sales")
	assert.Contains(t, lines[1], "4")
}

func TestVersionCmd(t *testing.T) {
	newCLIEnv(t)
	out, _, err := runCLI(t, "", "version", "-o", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"dev","commit":"none"}`, out)
}

func TestCommandsCmd(t *testing.T) {
	newCLIEnv(t)
	out, _, err := runCLI(t, "", "commands", "-o", "json")
	require.NoError(t, err)

	var entries []CommandEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	byPath := map[string]CommandEntry{}
	for _, e := range entries {
		byPath[e.Path] = e
	}
	assert.Contains(t, byPath, "config show")
	assert.Equal(t, "config", byPath["config show"].Group)
	assert.NotContains(t, byPath, "completion")

	query, ok := byPath["query"]
	require.True(t, ok)
	var view *FlagEntry
	for i := range query.Flags {
		if query.Flags[i].Name == "view" {
			view = &query.Flags[i]
		}
	}
	require.NotNil(t, view)
	assert.True(t, view.Required)
	assert.Equal(t, "string", view.Type)

	out, _, err = runCLI(t, "", "commands", "--filter", "sample", "-o", "json")
	require.NoError(t, err)
	entries = nil
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "sample", entries[0].Path)
}

func TestProfilePrecedence(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles:       map[string]Profile{"default": {Output: "csv"}},
	}))

	out, _, err := runCLI(t, "", "datasets", "--datasets", env.manifest)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "id,rows,fields\n"), out)

	t.Setenv("VIZFLOW_OUTPUT", "json")
	out, _, err = runCLI(t, "", "datasets", "--datasets", env.manifest)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "{"), out)

	_, _, err = runCLI(t, "", "datasets", "--datasets", env.manifest, "-p", "missing")
	require.Error(t, err)
}

func TestConfigCmds(t *testing.T) {
	newCLIEnv(t)

	_, _, err := runCLI(t, "", "config", "set-profile", "prod",
		"--server", "http://agent:9443", "--token", "agent-token-123", "--transport", "grpc")
	require.NoError(t, err)
	_, _, err = runCLI(t, "", "config", "set-profile", "dev", "--default-output", "csv")
	require.NoError(t, err)
	_, _, err = runCLI(t, "", "config", "set-profile", "bad", "--transport", "ws")
	require.Error(t, err)

	out, _, err := runCLI(t, "", "config", "profiles", "-o", "csv")
	require.NoError(t, err)
	assert.Equal(t, "active,name,server,transport,output\n,dev,,,csv\n*,prod,http://agent:9443,grpc,\n", out)

	out, _, err = runCLI(t, "", "config", "show", "-o", "json")
	require.NoError(t, err)
	var shown UserConfig
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "prod", shown.CurrentProfile)
	assert.Equal(t, "agen****-123", shown.Profiles["prod"].Token)

	_, _, err = runCLI(t, "", "config", "use-profile", "dev")
	require.NoError(t, err)
	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.CurrentProfile)
	assert.Equal(t, "agent-token-123", cfg.Profiles["prod"].Token)

	_, _, err = runCLI(t, "", "config", "use-profile", "missing")
	assert.ErrorContains(t, err, `profile "missing" not found`)

	_, _, err = runCLI(t, "", "config", "delete-profile", "dev")
	require.NoError(t, err)
	cfg, err = LoadUserConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.CurrentProfile)
	assert.NotContains(t, cfg.Profiles, "dev")
}
