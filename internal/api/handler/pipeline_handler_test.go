package handler

import (
	"net/http/httptest"
	"testing"

	"cip-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
)

func validSpec() model.PipelineJobSpec {
	c := model.DefaultCompliance()
	return model.PipelineJobSpec{
		Source:     model.Source{Type: "csv", URL: "cip.csv"},
		Compliance: &c,
		Export:     &model.Export{Dir: "out", Formats: []string{"csv"}},
	}
}

func TestValidateSpec(t *testing.T) {
	assert.NoError(t, validateSpec(validSpec()))

	tests := map[string]func(s *model.PipelineJobSpec){
		"no url":        func(s *model.PipelineJobSpec) { s.Source.URL = " " },
		"source type":   func(s *model.PipelineJobSpec) { s.Source.Type = "xml" },
		"gap":           func(s *model.PipelineJobSpec) { s.Compliance.MaxGapDays = 0 },
		"alkali":        func(s *model.PipelineJobSpec) { s.Compliance.MinAlkaliMinutes = -1 },
		"precision":     func(s *model.PipelineJobSpec) { s.Compliance.Precision = 12 },
		"group by":      func(s *model.PipelineJobSpec) { s.Compliance.GroupBy = "plant" },
		"export format": func(s *model.PipelineJobSpec) { s.Export.Formats = []string{"xlsx"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := validSpec()
			mutate(&s)
			assert.Error(t, validateSpec(s))
		})
	}
}

func TestJobIDFromPath(t *testing.T) {
	id, ok := jobIDFromPath("/api/v1/pipelines/abc", "")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	id, ok = jobIDFromPath("/api/v1/pipelines/abc/errors", "/errors")
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = jobIDFromPath("/api/v1/pipelines/abc/errors", "")
	assert.False(t, ok)
	_, ok = jobIDFromPath("/api/v1/pipelines//errors", "/errors")
	assert.False(t, ok)
	_, ok = jobIDFromPath("/api/v2/pipelines/abc", "")
	assert.False(t, ok)
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, page(items, 2, 0))
	assert.Equal(t, []int{5}, page(items, 2, 4))
	assert.Equal(t, []int{}, page(items, 2, 9))
}

func TestQueryHelpers(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?line=L1&device=D2&limit=5&offset=10", nil)
	assert.Equal(t, model.EntityKey{Line: "L1", Device: "D2"}, filterFromQuery(r))
	limit, offset := pageFromQuery(r)
	assert.Equal(t, 5, limit)
	assert.Equal(t, 10, offset)

	limit, offset = pageFromQuery(httptest.NewRequest("GET", "/x?limit=-3&offset=abc", nil))
	assert.Equal(t, 100, limit)
	assert.Equal(t, 0, offset)
}
