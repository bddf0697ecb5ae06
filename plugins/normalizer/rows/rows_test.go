package rows

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"carname/pkg/contract"
)

func TestScannerLineNumbers(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	sc := NewScanner(strings.NewReader("a\r\n\n" + long + "\nlast"))
	var got []string
	var nos []int64
	for {
		l, no, err := sc.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, l)
		nos = append(nos, no)
	}
	if len(got) != 4 || got[0] != "a" || got[1] != "" || len(got[2]) != len(long) || got[3] != "last" {
		t.Fatalf("lines: %d %q", len(got), got[0])
	}
	if nos[3] != 4 {
		t.Fatalf("line numbers: %v", nos)
	}
}

func TestCheck(t *testing.T) {
	cases := []struct {
		ref, alt string
		want     contract.RejectReason
	}{
		{"A", "G", ""},
		{"AT", "A", ""},
		{"A", "*", contract.RejectWildcardAllele},
		{"A", "<*>", contract.RejectWildcardAllele},
		{"A", "G,T", contract.RejectMultiAllelic},
		{"", "G", contract.RejectMissingRequired},
		{"A", "", contract.RejectMissingRequired},
		// 仅检查 alt；"." 交给注册中心
		{"*", "A", ""},
		{"G,T", "A", ""},
		{"A", ".", ""},
		{".", "A", ""},
	}
	for _, c := range cases {
		if got := Check(c.ref, c.alt); got != c.want {
			t.Fatalf("Check(%q,%q)=%q want %q", c.ref, c.alt, got, c.want)
		}
	}
}

func TestMissing(t *testing.T) {
	cols := []string{"#CHROM", "pos", "ID"}
	if m := Missing(cols, "#chrom", "POS", "REF"); len(m) != 1 || m[0] != "REF" {
		t.Fatalf("missing: %v", m)
	}
}
