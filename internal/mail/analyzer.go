package mail

import "context"

// DocumentAnalyzer turns one attachment file into text suitable for
// chunking and indexing. It is an external collaborator: a real
// implementation (vision-LLM-first with an OCR fallback, for example)
// is left to the operator to supply.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, filePath string) (text string, err error)
}

// NullAnalyzer is a test/no-op DocumentAnalyzer: it returns empty text
// for every attachment. Nothing in this package calls a
// DocumentAnalyzer; the Handler ingests only the email body text.
type NullAnalyzer struct{}

func (NullAnalyzer) Analyze(ctx context.Context, filePath string) (string, error) {
	return "", nil
}

var _ DocumentAnalyzer = NullAnalyzer{}
