package contract

import "strconv"

// FileID: 逻辑输入/工件标识（通常为路径，需规范化，跨平台一致）。
type FileID string

// Index: 已接受记录流内稳定递增的索引（0..n-1）；被拒行不占用 Index。
type Index int64

// Dialect: 输入方言。
type Dialect string

const (
	DialectVCF        Dialect = "vcf"
	DialectGTExEgenes Dialect = "gtex_egenes"
	DialectGTExPairs  Dialect = "gtex_pairs"
)

// Record: 规范化后的变异记录（不可变值）。
// 约束：
//   - Ref/Alt 均为单一、非空等位基因，不含 ',' 与 '*'；
//   - 违例行不会构造为 Record，而是由 Normalizer 产出 Rejection；
//   - Source 为原始行（去除行尾换行），输出时原样回写。
type Record struct {
	Index  Index
	Line   int64
	Source string
	Chrom  string
	Pos    int64
	Ref    string
	Alt    string
	ID     string
}

// VCFLine 渲染提交用的 8 列 VCF 数据行。
func (r Record) VCFLine() string {
	id := r.ID
	if id == "" {
		id = "."
	}
	b := make([]byte, 0, len(r.Chrom)+len(r.Ref)+len(r.Alt)+len(id)+32)
	b = append(b, r.Chrom...)
	b = append(b, '\t')
	b = strconv.AppendInt(b, r.Pos, 10)
	b = append(b, "\t.\t"...)
	b = append(b, r.Ref...)
	b = append(b, '\t')
	b = append(b, r.Alt...)
	b = append(b, "\t.\t.\t"...)
	b = append(b, id...)
	return string(b)
}

// RejectReason: 记录级拒绝原因。
type RejectReason string

const (
	RejectWildcardAllele  RejectReason = "wildcard_allele"
	RejectMultiAllelic    RejectReason = "multi_allelic"
	RejectMissingRequired RejectReason = "missing_required_column"
)

// Message 返回写入被拒流 ErrorComments 列的说明文字。
func (r RejectReason) Message() string {
	switch r {
	case RejectWildcardAllele:
		return "Current version of Allele Registry cannot take * as an alt allele"
	case RejectMultiAllelic:
		return "Allele Registry cannot take more than 1 alt allele, please split this entry into multiple entries with just 1 alt allele"
	case RejectMissingRequired:
		return "Required column is missing or empty"
	default:
		return string(r)
	}
}

// Rejection: 终态，写入被拒流，永不提交。
type Rejection struct {
	Line   int64
	Source string
	Reason RejectReason
}

// Item: Normalizer 的产出单元；Reject 非空表示该行被拒，否则 Record 有效。
type Item struct {
	Record Record
	Reject *Rejection
}

// Header: 输入头部信息。
//   - FileFormat: VCF 版本串（如 VCFv4.2），GTEx 固定为 VCFv4.2；
//   - Lines: 原始头部文本行（元数据 + 列头行，最后一行为列头）；
//   - Columns: 解析后的列名。
type Header struct {
	FileFormat string
	Lines      []string
	Columns    []string
}

// Batch: 固定窗口批。
type Batch struct {
	// BatchIndex: 提交顺序（0..n-1，严格递增），用于合并阶段的顺序恢复。
	BatchIndex int64
	// First: 批内首条记录的 Index。
	First   Index
	Records []Record
}

// Mode: 提交模式。query 为匿名查询；register 为带签名的注册。
type Mode string

const (
	ModeQuery    Mode = "query"
	ModeRegister Mode = "register"
)

// Credentials: 注册模式的登录凭据，显式传入客户端。
type Credentials struct {
	Login    string
	Password string
}

// Empty 报告凭据是否未设置。
func (c Credentials) Empty() bool { return c.Login == "" && c.Password == "" }
