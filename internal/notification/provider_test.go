package notification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain passes through",
			input: "Bougenville - 01",
			want:  "Bougenville - 01",
		},
		{
			name:  "tags stripped",
			input: "<b>Nurse Call</b> at <i>Bougenville</i>",
			want:  "Nurse Call at Bougenville",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "comparison is not markup",
			input: "queue depth 3",
			want:  "queue depth 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, plainText(tt.input))
		})
	}
}

func TestSupportedTypeSet(t *testing.T) {
	t.Parallel()

	all := supportedTypeSet(nil)
	for _, typ := range []Type{TypeError, TypeWarning, TypeInfo, TypeCall, TypeSystem} {
		assert.True(t, all[typ], "empty list admits %s", typ)
	}

	filtered := supportedTypeSet([]string{"Error", " call "})
	assert.True(t, filtered[TypeError], "type matching is case-insensitive")
	assert.True(t, filtered[TypeCall], "whitespace is trimmed")
	assert.False(t, filtered[TypeInfo])
	assert.False(t, filtered[TypeWarning])
}
