// Package summary 渲染运行统计报告。
package summary

import (
	"strconv"
	"strings"

	"carname/pkg/contract"
)

// Text 渲染纯文本报告：
//
//	Total variants: N
//	Total registered: N
//	Total unregistered: N
//	Variants seen in other records:
//	<name>: <count>   （按首次出现顺序）
func Text(s contract.Stats) string {
	var b strings.Builder
	line := func(label string, n int64) {
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(strconv.FormatInt(n, 10))
		b.WriteByte('\n')
	}
	line("Total variants", s.Variants)
	line("Total registered", s.Registered)
	line("Total unregistered", s.Unregistered)
	b.WriteString("Variants seen in other records:\n")
	for _, c := range s.CrossRefs {
		line(c.Name, c.Count)
	}
	return b.String()
}

