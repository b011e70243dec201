package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const contractSchemaVersion = "gulfsync_backtest_governance_contract_v1"

// Contract is the governance summary exported for one backtest run.
// Values copied from the API are kept loosely typed; the contract is a
// passthrough artifact consumed by downstream review, not by this
// process.
type Contract struct {
	SchemaVersion  string            `json:"schema_version"`
	GeneratedAtUTC string            `json:"generated_at_utc"`
	Source         ContractSource    `json:"source"`
	Run            ContractRun       `json:"run"`
	Governance     GovernanceSummary `json:"governance_summary"`
	Artifacts      map[string]any    `json:"artifact_pointers"`
}

// ContractSource identifies where the run was pulled from.
type ContractSource struct {
	Type    string `json:"type"`
	APIBase string `json:"api_base"`
}

// ContractRun carries run metadata plus selected parameters.
type ContractRun struct {
	RunID           string    `json:"run_id"`
	CreatedAtUTC    any       `json:"created_at_utc"`
	DateStartET     any       `json:"date_start_et"`
	DateEndET       any       `json:"date_end_et"`
	Symbol          any       `json:"symbol"`
	Vendor          any       `json:"vendor"`
	Dataset         any       `json:"dataset"`
	Schema          any       `json:"schema"`
	BarTimeframe    any       `json:"bar_timeframe"`
	Timezone        any       `json:"timezone"`
	RTHWindow       RTHWindow `json:"rth_window"`
	StartEquity     any       `json:"start_equity"`
	SpecVersion     any       `json:"spec_version"`
	StrategyVersion any       `json:"strategy_version"`
}

// RTHWindow is the regular-trading-hours filter used by the run.
type RTHWindow struct {
	Enabled bool `json:"enabled"`
	Start   any  `json:"start"`
	End     any  `json:"end"`
}

// GovernanceSummary aggregates per-gate metrics and decisions.
type GovernanceSummary struct {
	GateMetrics      []map[string]any         `json:"gate_metrics"`
	DecisionCounts   []map[string]any         `json:"decision_counts"`
	TopDenialsByGate map[string][]DenialCount `json:"top_denials_by_gate"`
	BestPFGate       string                   `json:"best_pf_gate"`
	BestPF           *float64                 `json:"best_pf"`
	CouncilPrecheck  CouncilPrecheck          `json:"council_precheck"`
}

// DenialCount is one denial code's frequency within a gate.
type DenialCount struct {
	DenialCode any `json:"denial_code"`
	Count      int `json:"count"`
}

// CouncilPrecheck is the fixed pre-review status stamped on every
// single-run contract.
type CouncilPrecheck struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// BuildContract pulls one run's rows from the API and assembles the
// governance contract.
func (c *Client) BuildContract(ctx context.Context, runID string) (*Contract, error) {
	rid, err := SafeRunID(runID)
	if err != nil {
		return nil, err
	}
	qrid := sqlQuote(rid)

	runItems, err := c.Query(ctx,
		"SELECT run_id, created_at_utc, date_start_et, date_end_et, params_json, "+
			"report_path, equity_curve_path FROM runs WHERE run_id="+qrid+" LIMIT 1", 1)
	if err != nil {
		return nil, err
	}
	if len(runItems) == 0 {
		return nil, fmt.Errorf("run_id not found: %s", rid)
	}
	runRow := runItems[0]

	params := parseParams(runRow["params_json"])

	gateMetrics, err := c.Query(ctx,
		"SELECT gate_id, trade_count, win_rate, pf, expectancy, maxdd, "+
			"worst_day, worst_trade, zero_trade_day_pct, ending_equity "+
			"FROM gate_metrics WHERE run_id="+qrid+" ORDER BY gate_id", 200)
	if err != nil {
		return nil, err
	}

	decisionCounts, err := c.Query(ctx,
		"SELECT gate_id, "+
			"SUM(CASE WHEN decision='PASS' THEN 1 ELSE 0 END) AS pass_count, "+
			"SUM(CASE WHEN decision='FAIL' THEN 1 ELSE 0 END) AS fail_count "+
			"FROM gate_decisions WHERE run_id="+qrid+" GROUP BY gate_id ORDER BY gate_id", 200)
	if err != nil {
		return nil, err
	}

	denialRows, err := c.Query(ctx,
		"SELECT gate_id, COALESCE(denial_code,'UNKNOWN') AS denial_code, COUNT(*) AS n "+
			"FROM gate_decisions WHERE run_id="+qrid+" AND decision='FAIL' "+
			"GROUP BY gate_id, COALESCE(denial_code,'UNKNOWN') ORDER BY gate_id, n DESC", 500)
	if err != nil {
		return nil, err
	}

	bestGate, bestPF := bestPFGate(gateMetrics)

	return &Contract{
		SchemaVersion:  contractSchemaVersion,
		GeneratedAtUTC: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		Source: ContractSource{
			Type:    "multigate-backtest-api",
			APIBase: c.baseURL,
		},
		Run: ContractRun{
			RunID:        rid,
			CreatedAtUTC: runRow["created_at_utc"],
			DateStartET:  runRow["date_start_et"],
			DateEndET:    runRow["date_end_et"],
			Symbol:       params["source_symbol"],
			Vendor:       params["source_vendor"],
			Dataset:      params["source_dataset"],
			Schema:       params["source_schema"],
			BarTimeframe: params["bar_timeframe"],
			Timezone:     params["timezone"],
			RTHWindow: RTHWindow{
				Enabled: params["rth_enabled"] == true,
				Start:   params["rth_start"],
				End:     params["rth_end"],
			},
			StartEquity:     params["start_equity"],
			SpecVersion:     params["spec_version"],
			StrategyVersion: params["strategy_version"],
		},
		Governance: GovernanceSummary{
			GateMetrics:      gateMetrics,
			DecisionCounts:   decisionCounts,
			TopDenialsByGate: topDenials(denialRows),
			BestPFGate:       bestGate,
			BestPF:           bestPF,
			CouncilPrecheck: CouncilPrecheck{
				Status: "NEEDS_MORE_EVIDENCE",
				Reason: "contract contains single-run summary; attach multi-window evidence packet for council vote",
			},
		},
		Artifacts: map[string]any{
			"report_path":         runRow["report_path"],
			"equity_curve_path":   runRow["equity_curve_path"],
			"db_path":             params["db_path"],
			"resolved_data_path":  params["resolved_data_path"],
			"source_sidecar_path": params["source_sidecar_path"],
		},
	}, nil
}

func parseParams(raw any) map[string]any {
	s, ok := raw.(string)
	if !ok || s == "" {
		return map[string]any{}
	}
	params := map[string]any{}
	if err := json.Unmarshal([]byte(s), &params); err != nil {
		return map[string]any{}
	}
	return params
}

// topDenials keeps at most five denial codes per gate, in API order.
func topDenials(rows []map[string]any) map[string][]DenialCount {
	out := map[string][]DenialCount{}
	for _, row := range rows {
		gid, _ := row["gate_id"].(string)
		if gid == "" {
			gid = "UNKNOWN"
		}
		if len(out[gid]) >= 5 {
			continue
		}
		out[gid] = append(out[gid], DenialCount{
			DenialCode: row["denial_code"],
			Count:      asInt(row["n"]),
		})
	}
	return out
}

func bestPFGate(metrics []map[string]any) (string, *float64) {
	var bestGate string
	var bestPF *float64
	for _, row := range metrics {
		pf, ok := asFloat(row["pf"])
		if !ok {
			continue
		}
		gid, _ := row["gate_id"].(string)
		if gid == "" {
			continue
		}
		if bestPF == nil || pf > *bestPF {
			v := pf
			bestPF = &v
			bestGate = gid
		}
	}
	return bestGate, bestPF
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any) int {
	f, ok := asFloat(v)
	if !ok {
		return 0
	}
	return int(f)
}
