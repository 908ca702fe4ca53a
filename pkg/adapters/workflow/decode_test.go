package workflow_test

import (
	"testing"

	"github.com/aretw0/parley/pkg/adapters/workflow"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		check  func(t *testing.T, ds []domain.Descriptor)
		errors bool
	}{
		{
			name: "empty body",
			body: "",
			check: func(t *testing.T, ds []domain.Descriptor) {
				assert.Empty(t, ds)
			},
		},
		{
			name: "array with aliases",
			body: `[{"content":"one"},{"text":"two","metadata":{"liveAgentRequested":1}}]`,
			check: func(t *testing.T, ds []domain.Descriptor) {
				require.Len(t, ds, 2)
				assert.Equal(t, "one", ds[0].Content)
				assert.NotNil(t, ds[0].Metadata)
				assert.Equal(t, "two", ds[1].Content)
				assert.True(t, ds[1].HasFlag(domain.FlagLiveAgentRequested))
			},
		},
		{
			name: "splash card",
			body: `{"type":"splash","title":"Welcome","buttons":["Chat","Email"],"richContent":{"kind":"card"}}`,
			check: func(t *testing.T, ds []domain.Descriptor) {
				require.Len(t, ds, 1)
				assert.True(t, ds[0].IsSplash())
				assert.Equal(t, "Welcome", ds[0].Title)
				assert.Equal(t, []any{"Chat", "Email"}, ds[0].Buttons)
				assert.Len(t, ds[0].RichContent, 1)
			},
		},
		{
			name: "weakly typed flags",
			body: `{"plainText":"ok","sent":"true","valid":"false","email":"a@b.co"}`,
			check: func(t *testing.T, ds []domain.Descriptor) {
				require.Len(t, ds, 1)
				assert.True(t, ds[0].Sent)
				require.NotNil(t, ds[0].Valid)
				assert.False(t, *ds[0].Valid)
				assert.Equal(t, "a@b.co", ds[0].Email)
			},
		},
		{
			name: "metadata of the wrong shape is dropped",
			body: `{"content":"x","meta":"oops"}`,
			check: func(t *testing.T, ds []domain.Descriptor) {
				require.Len(t, ds, 1)
				assert.Equal(t, "x", ds[0].Content)
				assert.Empty(t, ds[0].Metadata)
			},
		},
		{
			name:   "plain text body",
			body:   `Service is up`,
			errors: true,
			check: func(t *testing.T, ds []domain.Descriptor) {
				require.Len(t, ds, 1)
				assert.Equal(t, "Service is up", ds[0].Content)
			},
		},
		{
			name: "bare strings",
			body: `["a","b"]`,
			check: func(t *testing.T, ds []domain.Descriptor) {
				require.Len(t, ds, 2)
				assert.Equal(t, "b", ds[1].Content)
				assert.True(t, ds[1].IsText())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, errs := workflow.Decode([]byte(tt.body))
			if tt.errors {
				assert.NotEmpty(t, errs)
			} else {
				assert.Empty(t, errs)
			}
			tt.check(t, ds)
		})
	}
}
