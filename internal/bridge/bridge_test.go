package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI answers /api/query based on the statement shape, the way the
// real backtest API would for a single stored run.
func fakeAPI(t *testing.T, runID string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/query", r.URL.Path)

		var req struct {
			SQL   string `json:"sql"`
			Limit int    `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp map[string]any
		switch {
		case strings.Contains(req.SQL, "ORDER BY created_at_utc DESC"):
			resp = map[string]any{
				"ok": true, "columns": []string{"run_id"},
				"rows": [][]any{{runID}},
			}
		case strings.Contains(req.SQL, "params_json"):
			params := `{"source_symbol":"SPY","bar_timeframe":"1m","rth_enabled":true,"rth_start":"09:30","rth_end":"16:00","start_equity":25000}`
			resp = map[string]any{
				"ok": true,
				"columns": []string{
					"run_id", "created_at_utc", "date_start_et", "date_end_et",
					"params_json", "report_path", "equity_curve_path",
				},
				"rows": [][]any{{runID, "2026-08-30T12:00:00Z", "2026-08-01", "2026-08-29", params, "reports/r.html", "reports/eq.csv"}},
			}
		case strings.Contains(req.SQL, "FROM gate_metrics"):
			resp = map[string]any{
				"ok":      true,
				"columns": []string{"gate_id", "trade_count", "pf"},
				"rows":    [][]any{{"G1", 42, 1.31}, {"G2", 40, 1.55}},
			}
		case strings.Contains(req.SQL, "denial_code,'UNKNOWN') AS denial_code, COUNT"):
			resp = map[string]any{
				"ok":      true,
				"columns": []string{"gate_id", "denial_code", "n"},
				"rows":    [][]any{{"G1", "MAXDD", 3}, {"G1", "WORST_DAY", 1}},
			}
		case strings.Contains(req.SQL, "FROM gate_decisions"):
			resp = map[string]any{
				"ok":      true,
				"columns": []string{"gate_id", "pass_count", "fail_count"},
				"rows":    [][]any{{"G1", 30, 12}, {"G2", 35, 5}},
			}
		default:
			resp = map[string]any{"ok": false, "error": "unexpected query: " + req.SQL}
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestImporter(t *testing.T, apiURL string) *Importer {
	t.Helper()
	root := t.TempDir()
	return NewImporter(
		NewClient(apiURL),
		root,
		filepath.Join(root, "inbox"),
		filepath.Join(root, "status"),
		filepath.Join(root, "sync", "contracts", "backtest"),
		nil,
		zerolog.Nop(),
	)
}

func TestSafeRunID(t *testing.T) {
	rid, err := SafeRunID("20260211_195432_193aa326")
	require.NoError(t, err)
	assert.Equal(t, "20260211_195432_193aa326", rid)

	for _, bad := range []string{"", "   ", "rid; DROP TABLE runs", "a b", "x'y"} {
		_, err := SafeRunID(bad)
		assert.Error(t, err, "expected rejection: %q", bad)
	}
}

func TestLatestRunID(t *testing.T) {
	ts := fakeAPI(t, "run_42")
	defer ts.Close()

	rid, err := NewClient(ts.URL).LatestRunID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run_42", rid)
}

func TestBuildContract(t *testing.T) {
	ts := fakeAPI(t, "run_42")
	defer ts.Close()

	contract, err := NewClient(ts.URL).BuildContract(context.Background(), "run_42")
	require.NoError(t, err)

	assert.Equal(t, "gulfsync_backtest_governance_contract_v1", contract.SchemaVersion)
	assert.Equal(t, "run_42", contract.Run.RunID)
	assert.Equal(t, "SPY", contract.Run.Symbol)
	assert.True(t, contract.Run.RTHWindow.Enabled)
	assert.Equal(t, "G2", contract.Governance.BestPFGate)
	require.NotNil(t, contract.Governance.BestPF)
	assert.InDelta(t, 1.55, *contract.Governance.BestPF, 0.001)
	require.Len(t, contract.Governance.TopDenialsByGate["G1"], 2)
	assert.Equal(t, 3, contract.Governance.TopDenialsByGate["G1"][0].Count)
	assert.Equal(t, "NEEDS_MORE_EVIDENCE", contract.Governance.CouncilPrecheck.Status)
}

func TestPullWritesContractInboxAndMarker(t *testing.T) {
	ts := fakeAPI(t, "run_42")
	defer ts.Close()
	im := newTestImporter(t, ts.URL)

	res, err := im.Pull(context.Background(), "", false)
	require.NoError(t, err)
	assert.True(t, res.New)
	assert.Equal(t, "run_42", res.RunID)

	blob, err := os.ReadFile(res.ContractPath)
	require.NoError(t, err)
	var contract Contract
	require.NoError(t, json.Unmarshal(blob, &contract))
	assert.Equal(t, "run_42", contract.Run.RunID)

	latest, err := os.ReadFile(filepath.Join(im.contractsDir, "latest.json"))
	require.NoError(t, err)
	assert.Equal(t, blob, latest)

	note, err := os.ReadFile(res.InboxPath)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(res.InboxPath), "_bridge_backtest_run_42.md")
	assert.Contains(t, string(note), "## TO:risk_gate")
	assert.Contains(t, string(note), "best_pf_gate: `G2` (pf=1.5500)")
	assert.Contains(t, string(note), "G1(PASS=30, FAIL=12)")

	marker, err := os.ReadFile(im.lastRunFile())
	require.NoError(t, err)
	assert.Equal(t, "run_42\n", string(marker))
}

func TestPullSkipsAlreadyImported(t *testing.T) {
	ts := fakeAPI(t, "run_42")
	defer ts.Close()
	im := newTestImporter(t, ts.URL)

	first, err := im.Pull(context.Background(), "", false)
	require.NoError(t, err)
	require.True(t, first.New)

	second, err := im.Pull(context.Background(), "", false)
	require.NoError(t, err)
	assert.False(t, second.New)
	assert.Equal(t, "run_42", second.RunID)

	forced, err := im.Pull(context.Background(), "", true)
	require.NoError(t, err)
	assert.True(t, forced.New)
}

func TestPullRejectsUnsafeRunID(t *testing.T) {
	im := newTestImporter(t, "http://127.0.0.1:0")

	_, err := im.Pull(context.Background(), "rid'; DROP TABLE runs", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported characters")
}

func TestQueryErrorPropagates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "no such table: runs"})
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).LatestRunID(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}
