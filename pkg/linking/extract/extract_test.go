package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		doc  *model.Document
		want string
	}{
		{
			name: "nil document",
			doc:  nil,
			want: "",
		},
		{
			name: "plain parts joined by blank lines",
			doc: &model.Document{
				Title:        "Beatles",
				Description:  "A band",
				Body:         "John Lennon was born in Liverpool",
				RelatedTexts: []string{"Related one"},
			},
			want: "Beatles\n\nA band\n\nJohn Lennon was born in Liverpool\n\nRelated one",
		},
		{
			name: "empty parts skipped",
			doc:  &model.Document{Title: "Only title", Description: "  "},
			want: "Only title",
		},
		{
			name: "control characters stripped",
			doc:  &model.Document{Title: "Bad\x00Title\x07", Body: "line1\r\nline2"},
			want: "BadTitle\n\nline1\nline2",
		},
		{
			name: "html body converted",
			doc: &model.Document{
				Title:      "Page",
				Body:       "<p>John <b>Lennon</b></p><script>var x = 1;</script><p>Liverpool</p>",
				BodyFormat: model.FormatHTML,
			},
			want: "Page\n\nJohn Lennon\nLiverpool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractText(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTMLToText(t *testing.T) {
	got, err := HTMLToText(strings.NewReader(`<div><h1>Title</h1><ul><li>One</li><li>Two  words</li></ul><style>p{}</style>Tail &amp; end</div>`))
	require.NoError(t, err)
	assert.Equal(t, "Title\nOne\nTwo words\nTail & end", got)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "a\tb\nc", Clean("  a\tb\r\nc\x1b "))
	assert.Equal(t, "", Clean("\x00\x01"))
}
