package carjson

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carname/pkg/contract"
)

func dec(t *testing.T) contract.Decoder {
	t.Helper()
	d, err := New(nil)
	require.NoError(t, err)
	return d
}

// TestDecodeArray [A, _:CA, B] 按位置解码，交叉引用保持顺序
func TestDecodeArray(t *testing.T) {
	body := `[
	  {"@id":"http://reg.genome.network/allele/CA1","externalRecords":{"dbSNP":[{"rs":1}],"ClinVarAlleles":[{"id":2}]}},
	  {"@id":"_:CA"},
	  {"@id":"http://reg.genome.network/allele/CA2","externalRecords":null}
	]`
	got, err := dec(t).Decode(context.Background(), contract.Batch{}, contract.Raw{Status: 200, Body: []byte(body)})
	require.NoError(t, err)
	want := []contract.Result{
		contract.Resolved("http://reg.genome.network/allele/CA1",
			contract.ExternalRef{Name: "dbSNP", Value: `[{"rs":1}]`},
			contract.ExternalRef{Name: "ClinVarAlleles", Value: `[{"id":2}]`}),
		contract.Unresolved(),
		contract.Resolved("http://reg.genome.network/allele/CA2"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}
}

// TestDecodeErrorObject HTTP 200 + 错误对象 -> BatchError（字段顺序保留）
func TestDecodeErrorObject(t *testing.T) {
	body := `{"errorType":"VcfParsingError","description":"bad","line":3,"inputLine":"1\t2"}`
	_, err := dec(t).Decode(context.Background(), contract.Batch{}, contract.Raw{Status: 200, Body: []byte(body)})
	var be *contract.BatchError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 200, be.Status)
	assert.Equal(t, []contract.ErrorField{
		{Key: "errorType", Value: "VcfParsingError"},
		{Key: "description", Value: "bad"},
		{Key: "line", Value: "3"},
		{Key: "inputLine", Value: "1\t2"},
	}, be.Fields)
}

func TestDecodeInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"empty":      "   ",
		"text":       "Internal error",
		"broken":     `[{"@id":`,
		"missing id": `[{"foo":1}]`,
		"number id":  `[{"@id":5}]`,
		"bad ext":    `[{"@id":"CA1","externalRecords":[1]}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := dec(t).Decode(context.Background(), contract.Batch{}, contract.Raw{Body: []byte(body)})
			assert.ErrorIs(t, err, contract.ErrResponseInvalid)
		})
	}
}

func TestCustomFields(t *testing.T) {
	d, err := New([]byte(`{"id_field":"id","external_field":"xrefs"}`))
	require.NoError(t, err)
	got, err := d.Decode(context.Background(), contract.Batch{}, contract.Raw{Body: []byte(`[{"id":"CA9","xrefs":{"gnomAD":1}}]`)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CA9", got[0].ID)
	assert.Equal(t, []contract.ExternalRef{{Name: "gnomAD", Value: "1"}}, got[0].External)
}

// TestDecodeUnresolvedExternal _:CA 也保留交叉引用
func TestDecodeUnresolvedExternal(t *testing.T) {
	body := `[{"@id":"_:CA","externalRecords":{"gnomAD":[{"id":"g1"}]}},{"@id":"CA1","externalRecords":{"dbSNP":[{"rs":1}]}}]`
	got, err := dec(t).Decode(context.Background(), contract.Batch{}, contract.Raw{Status: 200, Body: []byte(body)})
	require.NoError(t, err)
	want := []contract.Result{
		contract.Unresolved(contract.ExternalRef{Name: "gnomAD", Value: `[{"id":"g1"}]`}),
		contract.Resolved("CA1", contract.ExternalRef{Name: "dbSNP", Value: `[{"rs":1}]`}),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decode mismatch (-want +got):\n%s", diff)
	}
}
