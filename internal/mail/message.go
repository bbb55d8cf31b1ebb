// Package mail implements the IMAP polling loop that turns new
// messages into job-scheduler jobs, plus the SMTP reply path and the
// per-message routing that decides whether a job is an ingestion or a
// chat query. Message decoding uses the standard net/mail and
// mime/multipart packages to walk RFC 5322/MIME structure.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"regexp"
	"strings"
)

// syntheticHeader is set by our own reply/ingestion-notification sender
// on self-addressed messages, so the loop can tell a message it
// authored apart from one a user sent.
const syntheticHeader = "X-Mail2Rag-Synthetic"

var chatSubjectPrefix = regexp.MustCompile(`(?i)^(chat|question)\s*:\s*`)

// ParsedMessage is the subset of a decoded RFC 5322 message the loop
// acts on.
type ParsedMessage struct {
	From      string
	Subject   string
	Body      string
	Synthetic bool
}

// IsChatMode reports whether Subject carries the "chat:"/"question:"
// prefix that routes a message to the retrieve-rerank-generate path
// instead of ingestion.
func (p ParsedMessage) IsChatMode() bool {
	return chatSubjectPrefix.MatchString(strings.TrimSpace(p.Subject))
}

// CleanSubject strips the chat-mode prefix, for use in reply subjects
// and as the query text when the body is empty.
func (p ParsedMessage) CleanSubject() string {
	return strings.TrimSpace(chatSubjectPrefix.ReplaceAllString(p.Subject, ""))
}

// ParseMessage decodes a raw RFC 5322 message into a ParsedMessage,
// extracting the first text/plain part it finds (falling back to a
// stripped text/html part) as Body.
func ParseMessage(raw []byte) (ParsedMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("mail: parse message: %w", err)
	}

	from := decodeHeader(msg.Header.Get("From"))
	subject := decodeHeader(msg.Header.Get("Subject"))
	synthetic := strings.EqualFold(strings.TrimSpace(msg.Header.Get(syntheticHeader)), "true")

	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("mail: read body: %w", err)
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	body, err := extractBody(contentType, bodyBytes)
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("mail: extract body: %w", err)
	}

	return ParsedMessage{From: from, Subject: subject, Body: body, Synthetic: synthetic}, nil
}

func decodeHeader(s string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

// extractBody walks contentType/body, preferring the first text/plain
// part over text/html, and falling back to a crude HTML-to-text strip
// when only HTML is present.
func extractBody(contentType string, body []byte) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body), nil
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		if mediaType == "text/html" {
			return htmlToText(string(body)), nil
		}
		return string(body), nil
	}

	boundary, ok := params["boundary"]
	if !ok {
		return string(body), nil
	}

	var plainPart, htmlPart string
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}
		partMediaType, _, err := mime.ParseMediaType(partContentType)
		if err != nil {
			partMediaType = "text/plain"
		}

		data, err := io.ReadAll(part)
		if err != nil {
			continue
		}

		switch partMediaType {
		case "text/plain":
			if plainPart == "" {
				plainPart = string(data)
			}
		case "text/html":
			if htmlPart == "" {
				htmlPart = string(data)
			}
		case "multipart/alternative", "multipart/mixed", "multipart/related":
			nested, err := extractBody(partContentType, data)
			if err == nil && plainPart == "" {
				plainPart = nested
			}
		}
	}

	if plainPart != "" {
		return plainPart, nil
	}
	if htmlPart != "" {
		return htmlToText(htmlPart), nil
	}
	return "", nil
}

var htmlTagPattern = regexp.MustCompile(`(?s)<[^>]*>`)

// htmlToText is a minimal, dependency-free HTML-to-text fallback: it is
// only ever used when a message has no text/plain alternative, so exact
// fidelity does not matter, just readable text for routing/search.
func htmlToText(html string) string {
	text := htmlTagPattern.ReplaceAllString(html, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.Join(strings.Fields(text), " ")
}
