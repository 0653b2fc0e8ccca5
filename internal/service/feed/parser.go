// Package feed adapts live tables, the simulator and Kafka into spin events.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"NeuralRoulette/internal/domain/models"
	"NeuralRoulette/pkg/util"
)

// TableResult is one entry of a table frame.
type TableResult struct {
	Outcome int
	GameID  string
	Color   string
	Time    time.Time
}

// Frame is a decoded table message. Results are newest first, as tables send
// them.
type Frame struct {
	TableID string
	Results []TableResult
	Legacy  bool
}

type wireResult struct {
	Time   string      `json:"time"`
	Result json.Number `json:"result"`
	Color  string      `json:"color"`
	GameID string      `json:"gameId"`
}

type wireFrame struct {
	TableID       string          `json:"tableId"`
	Last20Results []wireResult    `json:"last20Results"`
	Result        json.RawMessage `json:"result"`
}

// ParseFrame decodes a last20Results frame or the older
// {"result":{"number":n}} form. Frames with neither (pongs, acks) decode to
// an empty Frame.
func ParseFrame(raw []byte) (Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	if len(w.Last20Results) > 0 {
		f := Frame{TableID: w.TableID, Results: make([]TableResult, 0, len(w.Last20Results))}
		for _, r := range w.Last20Results {
			n, err := parseOutcome(r.Result)
			if err != nil {
				return Frame{}, err
			}
			ts, _ := util.ParseTime(r.Time)
			f.Results = append(f.Results, TableResult{
				Outcome: n,
				GameID:  r.GameID,
				Color:   strings.ToLower(r.Color),
				Time:    ts,
			})
		}
		return f, nil
	}

	if len(w.Result) > 0 && w.Result[0] == '{' {
		var legacy struct {
			Number json.Number `json:"number"`
		}
		if err := json.Unmarshal(w.Result, &legacy); err != nil {
			return Frame{}, fmt.Errorf("decode legacy result: %w", err)
		}
		if legacy.Number == "" {
			return Frame{TableID: w.TableID}, nil
		}
		n, err := parseOutcome(legacy.Number)
		if err != nil {
			return Frame{}, err
		}
		return Frame{TableID: w.TableID, Legacy: true, Results: []TableResult{{Outcome: n, Color: models.Color(n)}}}, nil
	}

	return Frame{TableID: w.TableID}, nil
}

func parseOutcome(n json.Number) (int, error) {
	v := util.ParseIntDefault(n.String(), -1)
	if v < models.MinOutcome || v > models.MaxOutcome {
		return 0, fmt.Errorf("%w: result %q", models.ErrInvalidEvent, n.String())
	}
	return v, nil
}

// EncodeFrame renders results (newest first) in the table wire format.
func EncodeFrame(tableID string, results []TableResult) ([]byte, error) {
	w := wireFrame{TableID: tableID, Last20Results: make([]wireResult, 0, len(results))}
	for _, r := range results {
		w.Last20Results = append(w.Last20Results, wireResult{
			Time:   r.Time.Format(util.TableTimeLayout),
			Result: json.Number(fmt.Sprint(r.Outcome)),
			Color:  models.Color(r.Outcome),
			GameID: r.GameID,
		})
	}
	return json.Marshal(w)
}
