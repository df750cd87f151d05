package ci

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciregistry/collection-engine/pkg/models"
)

func TestWriteOutput(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"plain", "hello", "::set-output name=plain::hello\n"},
		{"true_flag", true, "::set-output name=true_flag::yes\n"},
		{"false_flag", false, "::set-output name=false_flag::no\n"},
		{"newlines", "a\nb\r\nc", "::set-output name=newlines::a%0Ab%0D%0Ac\n"},
		{"percent", "100%", "::set-output name=percent::100%25\n"},
		{"percent_first", "%0A", "::set-output name=percent_first::%250A\n"},
		{
			"matrix",
			models.PendingMatrix{Include: []models.WorkItem{{ResourceID: "r1", VersionID: "v1"}}},
			"::set-output name=matrix::{\"include\":[{\"resource_id\":\"r1\",\"version_id\":\"v1\"}]}\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf strings.Builder
			require.NoError(t, WriteOutput(&buf, tc.name, tc.value))
			assert.Equal(t, tc.want, buf.String())
		})
	}
}

func TestParseMatrix(t *testing.T) {
	items, err := ParseMatrix([]byte(`{"include":[{"resource_id":"r1","version_id":"v1","partner_id":"ilastik"}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "r1", items[0].ResourceID)
	assert.Equal(t, "v1", items[0].VersionID)
	assert.Equal(t, "ilastik", items[0].PartnerID)
}

func TestParseMatrixEmpty(t *testing.T) {
	items, err := ParseMatrix([]byte(`{"include":[]}`))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseMatrixRejectsOtherDimensions(t *testing.T) {
	_, err := ParseMatrix([]byte(`{"include":[],"exclude":[{"resource_id":"r1"}]}`))
	assert.Error(t, err)

	_, err = ParseMatrix([]byte(`{"os":["linux"]}`))
	assert.Error(t, err)
}

func TestParseMatrixRejectsIncompleteItems(t *testing.T) {
	_, err := ParseMatrix([]byte(`{"include":[{"resource_id":"r1"}]}`))
	assert.Error(t, err)
}
