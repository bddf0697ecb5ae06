package split

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"carname/pkg/contract"
)

// Options: 输出行形态。
type Options struct {
	// OutputLine: "source"（默认，原始输入行）或 "submitted"（提交的 8 列 VCF 行）。
	OutputLine string `json:"output_line"`
}

type reconciler struct {
	submitted bool
}

// New 从原样 JSON Options 创建对账器。
func New(raw json.RawMessage) (contract.Reconciler, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("split options: %w", err)
		}
	}
	switch opts.OutputLine {
	case "", "source":
		return &reconciler{}, nil
	case "submitted":
		return &reconciler{submitted: true}, nil
	}
	return nil, fmt.Errorf("split: %w: output_line %q", contract.ErrConfig, opts.OutputLine)
}

// Reconcile 按 Slot 顺序分流：已解析写 "行\tID"，未解析写 "行\t"；同时折叠本批统计。
func (r *reconciler) Reconcile(ctx context.Context, slots []contract.Slot) (contract.Outcome, error) {
	select {
	case <-ctx.Done():
		return contract.Outcome{}, ctx.Err()
	default:
	}
	var res, unres strings.Builder
	var st contract.Stats
	for _, s := range slots {
		line := s.Record.Source
		if r.submitted {
			line = s.Record.VCFLine()
		}
		st.Observe(s.Result)
		if s.Result.IsResolved() {
			res.WriteString(line)
			res.WriteByte('\t')
			res.WriteString(s.Result.ID)
			res.WriteByte('\n')
			continue
		}
		unres.WriteString(line)
		unres.WriteString("\t\n")
	}
	return contract.Outcome{
		Resolved:   strings.NewReader(res.String()),
		Unresolved: strings.NewReader(unres.String()),
		Stats:      st,
	}, nil
}
