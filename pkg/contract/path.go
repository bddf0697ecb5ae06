package contract

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：正斜杠分隔；清理 . 与 ..；保留相对/绝对语义。
func NormalizeFileID(p string) FileID {
	return FileID(path.Clean(strings.ReplaceAll(p, "\\", "/")))
}

// OutputName: 由输入路径推导的输出命名三元组。
//   - Base: 去除扩展名后的基名（x.vcf.gz -> x）；
//   - Ext: 数据扩展名（.vcf / .txt），可为空；
//   - Gz: 压缩后缀（".gz" 或空）。
type OutputName struct {
	Base string
	Ext  string
	Gz   string
}

// NameFor 根据输入路径与是否压缩推导输出命名。
// gz 为 true 时输出统一带 .gz 后缀，无论输入是否以 .gz 结尾。
func NameFor(input string, gz bool) OutputName {
	base := filepath.Base(filepath.Clean(input))
	if strings.HasSuffix(strings.ToLower(base), ".gz") {
		base = base[:len(base)-3]
	}
	ext := filepath.Ext(base)
	n := OutputName{Base: strings.TrimSuffix(base, ext), Ext: ext}
	if gz {
		n.Gz = ".gz"
	}
	return n
}

// Final 返回最终工件名，例如 x_CAid.vcf.gz。
func (n OutputName) Final(kind string) ArtifactID {
	return ArtifactID(n.Base + "_" + kind + n.Ext + n.Gz)
}

// Batch 返回批级中间工件名，例如 x_tmp-3_CAid.vcf.gz。
func (n OutputName) Batch(idx int64, kind string) ArtifactID {
	return ArtifactID(n.Base + "_tmp-" + strconv.FormatInt(idx, 10) + "_" + kind + n.Ext + n.Gz)
}

// BatchPlain 返回批级非压缩诊断工件名，例如 x_tmp-3_Error.txt。
func (n OutputName) BatchPlain(idx int64, suffix string) ArtifactID {
	return ArtifactID(n.Base + "_tmp-" + strconv.FormatInt(idx, 10) + "_" + suffix)
}

// Plain 返回非压缩工件名，例如 x_summary.txt。
func (n OutputName) Plain(suffix string) ArtifactID {
	return ArtifactID(n.Base + "_" + suffix)
}
