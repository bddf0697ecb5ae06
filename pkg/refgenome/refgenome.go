// Package refgenome 提供注册中心提交头部所需的参考基因组 contig 表。
package refgenome

import (
	"fmt"
	"strconv"
	"strings"

	"carname/pkg/contract"
)

// Contig: 单条序列（染色体）的标识与长度。
type Contig struct {
	ID     string
	Length int64
}

// Genome: 参考基因组构建。
type Genome struct {
	Name     string
	Assembly string
	Contigs  []Contig
}

// RequiredColumns: 提交头部固定的 8 列。
var RequiredColumns = []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}

// DefaultFileFormat: 输入未提供版本时使用的 VCF 版本。
const DefaultFileFormat = "VCFv4.2"

var grch38 = Genome{Name: "GRCh38", Assembly: "GRCh38", Contigs: []Contig{
	{"1", 248956422}, {"2", 242193529}, {"3", 198295559}, {"4", 190214555},
	{"5", 181538259}, {"6", 170805979}, {"7", 159345973}, {"8", 145138636},
	{"9", 138394717}, {"10", 133797422}, {"11", 135086622}, {"12", 133275309},
	{"13", 114364328}, {"14", 107043718}, {"15", 101991189}, {"16", 90338345},
	{"17", 83257441}, {"18", 80373285}, {"19", 58617616}, {"20", 64444167},
	{"21", 46709983}, {"22", 50818468}, {"X", 156040895}, {"Y", 57227415},
	{"M", 16569},
}}

var grch37 = Genome{Name: "GRCh37", Assembly: "GRCh37", Contigs: []Contig{
	{"1", 249250621}, {"2", 243199373}, {"3", 198022430}, {"4", 191154276},
	{"5", 180915260}, {"6", 171115067}, {"7", 159138663}, {"8", 146364022},
	{"9", 141213431}, {"10", 135534747}, {"11", 135006516}, {"12", 133851895},
	{"13", 115169878}, {"14", 107349540}, {"15", 102531392}, {"16", 90354753},
	{"17", 81195210}, {"18", 78077248}, {"19", 59128983}, {"20", 63025520},
	{"21", 48129895}, {"22", 51304566}, {"X", 155270560}, {"Y", 59373566},
}}

// Names 返回受支持的基因组名（小写）。
func Names() []string { return []string{"hg19", "grch37", "hg38", "grch38"} }

// Lookup 按名称（不区分大小写，精确匹配）查找参考基因组。
func Lookup(name string) (Genome, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hg38", "grch38":
		return grch38, nil
	case "hg19", "grch37":
		return grch37, nil
	}
	return Genome{}, fmt.Errorf("%w: %q (supported: %s)", contract.ErrUnsupportedGenome, name, strings.Join(Names(), ", "))
}

// VCFHeader 渲染提交头部：fileformat 行 + contig 表 + 8 列表头行（以换行结尾）。
func (g Genome) VCFHeader(fileFormat string) string {
	if fileFormat == "" {
		fileFormat = DefaultFileFormat
	}
	var b strings.Builder
	b.WriteString("##fileformat=")
	b.WriteString(fileFormat)
	b.WriteByte('\n')
	for _, c := range g.Contigs {
		b.WriteString("##contig=<ID=")
		b.WriteString(c.ID)
		b.WriteString(",length=")
		b.WriteString(strconv.FormatInt(c.Length, 10))
		b.WriteString(",assembly=")
		b.WriteString(g.Assembly)
		b.WriteString(">\n")
	}
	b.WriteString(strings.Join(RequiredColumns, "\t"))
	b.WriteByte('\n')
	return b.String()
}
