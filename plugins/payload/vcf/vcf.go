package vcf

import (
	"context"
	"fmt"

	"carname/pkg/contract"
	"carname/pkg/refgenome"
)

// Options: 提交载荷选项。
type Options struct {
	// Genome: 参考基因组名（hg19|grch37|hg38|grch38）。
	Genome string `json:"genome"`
}

// Builder 生成注册中心所需的 8 列 VCF 文本。
type Builder struct {
	g refgenome.Genome
}

// New 校验基因组并创建 Builder。
func New(opts *Options) (*Builder, error) {
	name := "hg38"
	if opts != nil && opts.Genome != "" {
		name = opts.Genome
	}
	g, err := refgenome.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Builder{g: g}, nil
}

var _ contract.PayloadBuilder = (*Builder)(nil)

// Header 以输入的 VCF 版本与基因组 contig 表渲染提交头部。
func (b *Builder) Header(h contract.Header) (string, error) {
	return b.g.VCFHeader(h.FileFormat), nil
}

// Build 按批内顺序逐条渲染数据行。
func (b *Builder) Build(ctx context.Context, header string, bt contract.Batch) (contract.Payload, error) {
	if len(bt.Records) == 0 {
		return contract.Payload{}, fmt.Errorf("%w: empty batch %d", contract.ErrInvalidInput, bt.BatchIndex)
	}
	lines := make([]string, len(bt.Records))
	for i, r := range bt.Records {
		if i&1023 == 0 {
			select {
			case <-ctx.Done():
				return contract.Payload{}, ctx.Err()
			default:
			}
		}
		lines[i] = r.VCFLine()
	}
	return contract.Payload{Header: header, Lines: lines}, nil
}
