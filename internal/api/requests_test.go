package api

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLearnRequest() LearnRequest {
	return LearnRequest{
		Source:    "manual",
		Type:      "article",
		Title:     "Go profiling notes",
		Content:   "pprof basics and flame graphs",
		Relevance: 0.8,
	}
}

func TestLearnRequestValidate(t *testing.T) {
	t.Run("accepts minimal request", func(t *testing.T) {
		req := validLearnRequest()
		require.Nil(t, req.Validate())
	})

	t.Run("accepts content at the cap", func(t *testing.T) {
		req := validLearnRequest()
		req.Content = strings.Repeat("x", 50000)
		require.Nil(t, req.Validate())
	})

	cases := []struct {
		name  string
		mod   func(*LearnRequest)
		field string
	}{
		{"missing source", func(r *LearnRequest) { r.Source = "" }, "source"},
		{"source too long", func(r *LearnRequest) { r.Source = strings.Repeat("s", 201) }, "source"},
		{"missing type", func(r *LearnRequest) { r.Type = "" }, "type"},
		{"type too long", func(r *LearnRequest) { r.Type = strings.Repeat("t", 51) }, "type"},
		{"missing title", func(r *LearnRequest) { r.Title = "" }, "title"},
		{"title too long", func(r *LearnRequest) { r.Title = strings.Repeat("t", 501) }, "title"},
		{"missing content", func(r *LearnRequest) { r.Content = "" }, "content"},
		{"content over the cap", func(r *LearnRequest) { r.Content = strings.Repeat("x", 50001) }, "content"},
		{"url too long", func(r *LearnRequest) { r.URL = "https://" + strings.Repeat("u", 2000) }, "url"},
		{"relevance below zero", func(r *LearnRequest) { r.Relevance = -0.1 }, "relevance"},
		{"relevance above one", func(r *LearnRequest) { r.Relevance = 1.1 }, "relevance"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validLearnRequest()
			tc.mod(&req)
			ferr := req.Validate()
			require.NotNil(t, ferr)
			assert.Equal(t, tc.field, ferr.Field)
			assert.NotEmpty(t, ferr.Message)
		})
	}

	t.Run("drops excess tags and clips long ones", func(t *testing.T) {
		req := validLearnRequest()
		for i := 0; i < 25; i++ {
			req.Tags = append(req.Tags, strings.Repeat("g", 150))
		}
		require.Nil(t, req.Validate())
		require.Len(t, req.Tags, maxTags)
		for _, tag := range req.Tags {
			assert.Len(t, tag, maxTagLen)
		}
	})

	t.Run("clips tags on rune boundaries", func(t *testing.T) {
		req := validLearnRequest()
		req.Tags = []string{strings.Repeat("ü", 150)}
		require.Nil(t, req.Validate())
		assert.Equal(t, strings.Repeat("ü", 100), req.Tags[0])
	})

	t.Run("short tags pass through untouched", func(t *testing.T) {
		req := validLearnRequest()
		req.Tags = []string{"go", "profiling"}
		require.Nil(t, req.Validate())
		assert.Equal(t, []string{"go", "profiling"}, req.Tags)
	})
}

func TestSearchRequestValidate(t *testing.T) {
	t.Run("defaults the limit", func(t *testing.T) {
		req := SearchRequest{Query: "pprof"}
		require.Nil(t, req.Validate())
		assert.Equal(t, defaultSearchLimit, req.Limit)
	})

	t.Run("keeps an explicit limit", func(t *testing.T) {
		req := SearchRequest{Query: "pprof", Limit: 100}
		require.Nil(t, req.Validate())
		assert.Equal(t, 100, req.Limit)
	})

	cases := []struct {
		name  string
		req   SearchRequest
		field string
	}{
		{"missing query", SearchRequest{Limit: 5}, "query"},
		{"query too long", SearchRequest{Query: strings.Repeat("q", 1001)}, "query"},
		{"limit negative", SearchRequest{Query: "q", Limit: -1}, "limit"},
		{"limit over cap", SearchRequest{Query: "q", Limit: 101}, "limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ferr := tc.req.Validate()
			require.NotNil(t, ferr)
			assert.Equal(t, tc.field, ferr.Field)
		})
	}
}

func TestExecuteRequestValidateBoundaries(t *testing.T) {
	for _, tc := range []struct {
		cycles int
		ok     bool
	}{
		{0, false},
		{1, true},
		{100, true},
		{101, false},
	} {
		req := ExecuteRequest{Task: "note it", MaxCycles: tc.cycles}
		ferr := req.Validate()
		if tc.ok {
			assert.Nil(t, ferr, "max_cycles=%d", tc.cycles)
		} else {
			require.NotNil(t, ferr, "max_cycles=%d", tc.cycles)
			assert.Equal(t, "max_cycles", ferr.Field)
		}
	}

	t.Run("task bounds", func(t *testing.T) {
		req := ExecuteRequest{Task: strings.Repeat("t", 5000), MaxCycles: 1}
		assert.Nil(t, req.Validate())

		req.Task = strings.Repeat("t", 5001)
		ferr := req.Validate()
		require.NotNil(t, ferr)
		assert.Equal(t, "task", ferr.Field)

		req.Task = ""
		ferr = req.Validate()
		require.NotNil(t, ferr)
		assert.Equal(t, "task", ferr.Field)
	})
}

func TestFeedbackRequestValidate(t *testing.T) {
	assert.Nil(t, (&FeedbackRequest{Content: strings.Repeat("f", 10000)}).Validate())

	ferr := (&FeedbackRequest{}).Validate()
	require.NotNil(t, ferr)
	assert.Equal(t, "content", ferr.Field)

	ferr = (&FeedbackRequest{Content: strings.Repeat("f", 10001)}).Validate()
	require.NotNil(t, ferr)
	assert.Equal(t, "content", ferr.Field)
}

func TestTaskExecutionRequestValidate(t *testing.T) {
	assert.Nil(t, (&TaskExecutionRequest{TaskType: "code_review", DurationMs: 0}).Validate())

	ferr := (&TaskExecutionRequest{DurationMs: 10}).Validate()
	require.NotNil(t, ferr)
	assert.Equal(t, "task_type", ferr.Field)

	ferr = (&TaskExecutionRequest{TaskType: "code_review", DurationMs: -1}).Validate()
	require.NotNil(t, ferr)
	assert.Equal(t, "duration_ms", ferr.Field)
}
