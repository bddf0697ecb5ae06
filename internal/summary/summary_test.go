package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"carname/pkg/contract"
)

func TestText(t *testing.T) {
	s := contract.Stats{Variants: 8, Registered: 6, Unregistered: 2,
		CrossRefs: []contract.CrossRefCount{{Name: "dbSNP", Count: 6}, {Name: "ClinVarAlleles", Count: 4}}}
	want := "Total variants: 8\n" +
		"Total registered: 6\n" +
		"Total unregistered: 2\n" +
		"Variants seen in other records:\n" +
		"dbSNP: 6\n" +
		"ClinVarAlleles: 4\n"
	assert.Equal(t, want, Text(s))
}

func TestTextEmpty(t *testing.T) {
	assert.Equal(t, "Total variants: 0\nTotal registered: 0\nTotal unregistered: 0\nVariants seen in other records:\n", Text(contract.Stats{}))
}
