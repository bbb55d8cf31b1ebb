// Package chunk implements a recursive, boundary-preserving text
// splitter: paragraphs, then lines, then sentence punctuation, then
// words, then raw runes, in that priority order, with a configurable
// character overlap between consecutive chunks.
package chunk

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Aman-CERP/mail2rag/internal/domain"
)

// defaultSeparators lists split points in priority order: the splitter
// tries the highest-priority separator that still keeps every resulting
// piece under Size before falling back to the next one.
var defaultSeparators = []string{
	"\n\n", // paragraphs
	"\n",   // lines
	". ",   // sentences
	"! ",
	"? ",
	"; ",
	", ",
	" ",
	"", // raw runes, last resort
}

var collapseSpaces = regexp.MustCompile(` +`)

// Splitter recursively splits text into chunks of at most Size runes,
// each consecutive pair overlapping by Overlap runes of trailing context.
type Splitter struct {
	Size       int
	Overlap    int
	separators []string
}

// NewSplitter constructs a Splitter. size must be positive; overlap must
// be within [0, size).
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, invalidChunkSize(size)
	}
	if overlap < 0 || overlap >= size {
		return nil, invalidChunkOverlap(overlap, size)
	}
	return &Splitter{Size: size, Overlap: overlap, separators: defaultSeparators}, nil
}

// Split breaks text into domain.Chunks, tagging each with its index,
// total count, character span, and a clone of baseMetadata plus
// per-chunk chunk_index/chunk_total fields.
func (s *Splitter) Split(text string, baseMetadata domain.Metadata) []domain.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	normalized := collapseSpaces.ReplaceAllString(text, " ")

	var pieces []string
	if runeLen(normalized) <= s.Size {
		pieces = []string{normalized}
	} else {
		pieces = s.recursiveSplit(normalized, s.separators)
	}

	chunks := make([]domain.Chunk, 0, len(pieces))
	charPos := 0
	total := len(pieces)

	for i, piece := range pieces {
		meta := baseMetadata.Clone()
		if meta == nil {
			meta = domain.Metadata{}
		}

		start := charPos
		end := charPos + runeLen(piece)

		meta["chunk_index"] = strconv.Itoa(i)
		meta["chunk_total"] = strconv.Itoa(total)
		meta["chunk_size_actual"] = strconv.Itoa(runeLen(piece))
		meta["char_start"] = strconv.Itoa(start)
		meta["char_end"] = strconv.Itoa(end)

		chunks = append(chunks, domain.Chunk{
			Text:        piece,
			Index:       i,
			TotalChunks: total,
			CharStart:   start,
			CharEnd:     end,
			Metadata:    meta,
		})

		charPos += runeLen(piece) - s.Overlap
	}

	return chunks
}

func (s *Splitter) recursiveSplit(text string, separators []string) []string {
	if len(separators) == 0 {
		return s.splitByRunes(text)
	}

	separator := separators[0]
	rest := separators[1:]

	if separator == "" {
		return s.splitByRunes(text)
	}

	splits := strings.Split(text, separator)

	var chunks []string
	var current strings.Builder

	for i, part := range splits {
		piece := part
		if i < len(splits)-1 {
			piece += separator
		}

		if runeLen(current.String())+runeLen(piece) > s.Size {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))

				overlapStart := max(0, runeLen(current.String())-s.Overlap)
				kept := sliceRunes(current.String(), overlapStart, -1)
				current.Reset()
				current.WriteString(kept)
				current.WriteString(piece)
			} else if runeLen(piece) > s.Size {
				sub := s.recursiveSplit(piece, rest)
				if len(sub) > 0 {
					chunks = append(chunks, sub[:len(sub)-1]...)
					current.WriteString(sub[len(sub)-1])
				}
			} else {
				current.WriteString(piece)
			}
		} else {
			current.WriteString(piece)
		}
	}

	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

func (s *Splitter) splitByRunes(text string) []string {
	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		end := start + s.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end < len(runes) {
			start = end - s.Overlap
		} else {
			start = end
		}
	}

	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}

func sliceRunes(s string, start, end int) string {
	runes := []rune(s)
	if end < 0 || end > len(runes) {
		end = len(runes)
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		start = end
	}
	return string(runes[start:end])
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
