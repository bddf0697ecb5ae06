package contract

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"本地分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"父目录", "./x/../y", "y"},
		{"空串", "", "."},
		{"Windows路径", "C:\\data\\sample.vcf", "C:/data/sample.vcf"},
		{"清理多余斜杠", "path//to///file.vcf", "path/to/file.vcf"},
		{"混合分隔符", "C:\\Users/test\\in.vcf.gz", "C:/Users/test/in.vcf.gz"},
		{"Unix绝对路径", "/home/user/../admin/in.vcf", "/home/admin/in.vcf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFileID(tt.input); string(got) != tt.expected {
				t.Errorf("NormalizeFileID(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestNameFor 覆盖输出命名推导。
func TestNameFor(t *testing.T) {
	cases := []struct {
		in   string
		gz   bool
		want OutputName
	}{
		{"/data/x.vcf", false, OutputName{Base: "x", Ext: ".vcf"}},
		{"/data/x.vcf.gz", true, OutputName{Base: "x", Ext: ".vcf", Gz: ".gz"}},
		{"x.vcf.gz", false, OutputName{Base: "x", Ext: ".vcf"}},
		{"Whole_Blood.v8.egenes.txt", false, OutputName{Base: "Whole_Blood.v8.egenes", Ext: ".txt"}},
		{"noext", true, OutputName{Base: "noext", Gz: ".gz"}},
	}
	for _, c := range cases {
		if got := NameFor(c.in, c.gz); got != c.want {
			t.Fatalf("NameFor(%q,%v)=%+v want %+v", c.in, c.gz, got, c.want)
		}
	}
	n := NameFor("/data/x.vcf.gz", true)
	if got := n.Final("CAid"); got != "x_CAid.vcf.gz" {
		t.Fatalf("final: %s", got)
	}
	if got := n.Batch(12, "noCAid"); got != "x_tmp-12_noCAid.vcf.gz" {
		t.Fatalf("batch: %s", got)
	}
	if got := n.BatchPlain(3, "Error.txt"); got != "x_tmp-3_Error.txt" {
		t.Fatalf("plain: %s", got)
	}
	if got := n.Plain("summary.txt"); got != "x_summary.txt" {
		t.Fatalf("summary: %s", got)
	}
}

func TestRecordVCFLine(t *testing.T) {
	r := Record{Chrom: "1", Pos: 100, Ref: "A", Alt: "G", ID: "rs1"}
	if got := r.VCFLine(); got != "1\t100\t.\tA\tG\t.\t.\trs1" {
		t.Fatalf("got %q", got)
	}
	r.ID = ""
	if got := r.VCFLine(); got != "1\t100\t.\tA\tG\t.\t.\t." {
		t.Fatalf("empty id: %q", got)
	}
}

// TestPair 验证位置配对：[A, 未解析, B] 按序对应三条记录。
func TestPair(t *testing.T) {
	b := Batch{BatchIndex: 4, Records: []Record{{Index: 0, Source: "a"}, {Index: 1, Source: "b"}, {Index: 2, Source: "c"}}}
	res := []Result{Resolved("CA1"), Unresolved(), Resolved("CA2")}
	slots, err := Pair(b, res)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	got := make([]string, 0, len(slots))
	for _, s := range slots {
		got = append(got, s.Record.Source+"="+s.Result.ID)
	}
	if diff := cmp.Diff([]string{"a=CA1", "b=", "c=CA2"}, got); diff != "" {
		t.Fatalf("pair mismatch (-want +got):\n%s", diff)
	}

	if _, err := Pair(b, res[:2]); !errors.Is(err, ErrSeqInvalid) {
		t.Fatalf("want ErrSeqInvalid got %v", err)
	}
}

// TestStatsAdditivity 两批统计合并后等于逐项之和。
func TestStatsAdditivity(t *testing.T) {
	var a, b Stats
	for i := 0; i < 2; i++ {
		a.Observe(Resolved("x", ExternalRef{Name: "dbSNP"}))
	}
	a.Observe(Unresolved())
	for i := 0; i < 4; i++ {
		b.Observe(Resolved("y", ExternalRef{Name: "ClinVarAlleles"}, ExternalRef{Name: "dbSNP"}))
	}
	b.Observe(Unresolved())

	var total Stats
	total.Merge(a)
	total.Merge(b)
	if total.Variants != 8 || total.Registered != 6 || total.Unregistered != 2 {
		t.Fatalf("totals: %+v", total)
	}
	want := []CrossRefCount{{Name: "dbSNP", Count: 6}, {Name: "ClinVarAlleles", Count: 4}}
	if diff := cmp.Diff(want, total.CrossRefs); diff != "" {
		t.Fatalf("cross refs (-want +got):\n%s", diff)
	}
	if total.CrossRef("dbSNP") != 6 || total.CrossRef("none") != 0 {
		t.Fatalf("lookup: %+v", total.CrossRefs)
	}
}

func TestStatsAddRejectedOnce(t *testing.T) {
	var s Stats
	s.Observe(Resolved("a"))
	s.AddRejected(3)
	if s.Variants != 4 || s.Unregistered != 3 || s.Registered != 1 {
		t.Fatalf("got %+v", s)
	}
}

func TestBatchErrorReport(t *testing.T) {
	e := &BatchError{Status: 200, Fields: []ErrorField{{"errorType", "VcfParsingError"}, {"description", "bad line"}}}
	if e.Error() != "registry batch error: bad line" {
		t.Fatalf("error: %s", e.Error())
	}
	if got := e.Report(); got != "errorType: VcfParsingError\ndescription: bad line\n" {
		t.Fatalf("report: %q", got)
	}
	tr := &BatchError{Message: "timeout after 3 attempts", Timeout: true}
	if got := tr.Report(); got != "error: registry batch error: timeout after 3 attempts\n" {
		t.Fatalf("transport report: %q", got)
	}
	var target *BatchError
	if !errors.As(error(e), &target) || target.Status != 200 {
		t.Fatalf("errors.As failed")
	}
}

func TestPayloadText(t *testing.T) {
	p := Payload{Header: "##fileformat=VCFv4.2\n#CHROM\n", Lines: []string{"1\t1\t.\tA\tG\t.\t.\t.", "2\t2\t.\tC\tT\t.\t.\t."}}
	want := "##fileformat=VCFv4.2\n#CHROM\n1\t1\t.\tA\tG\t.\t.\t.\n2\t2\t.\tC\tT\t.\t.\t.\n"
	if p.Text() != want || p.Len() != 2 {
		t.Fatalf("text: %q", p.Text())
	}
}

func TestStatsUnresolvedCrossRefs(t *testing.T) {
	var s Stats
	s.Observe(Unresolved(ExternalRef{Name: "gnomAD"}))
	s.Observe(Resolved("a", ExternalRef{Name: "gnomAD"}))
	if s.Unregistered != 1 || s.Registered != 1 || s.CrossRef("gnomAD") != 2 {
		t.Fatalf("got %+v", s)
	}
}
