package model

// Body formats understood by text extraction.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// DocumentKey identifies a document within a repository. It is the key for
// queue deduplication and progress tracking.
type DocumentKey struct {
	Repository string `json:"repository"`
	DocumentID string `json:"documentId"`
}

func (k DocumentKey) String() string {
	return k.Repository + "/" + k.DocumentID
}

// Document is a source document whose text is analyzed for entity mentions.
type Document struct {
	ID           string   `json:"id"`
	Repository   string   `json:"repository"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Body         string   `json:"body,omitempty"`
	BodyFormat   string   `json:"bodyFormat,omitempty"`
	RelatedTexts []string `json:"relatedTexts,omitempty"`
	Deleted      bool     `json:"deleted"`
}

// Key returns the document's queue and progress key.
func (d *Document) Key() DocumentKey {
	return DocumentKey{Repository: d.Repository, DocumentID: d.ID}
}
