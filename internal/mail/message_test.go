package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawPlainMessage(from, subject, body string, extraHeaders ...string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: rag@example.com\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	for _, h := range extraHeaders {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func TestParseMessageExtractsPlainTextBody(t *testing.T) {
	raw := rawPlainMessage("alice@example.com", "Hello", "This is the body.")
	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", msg.From)
	assert.Equal(t, "Hello", msg.Subject)
	assert.Equal(t, "This is the body.", msg.Body)
	assert.False(t, msg.Synthetic)
}

func TestParseMessageDetectsSyntheticHeaderCaseInsensitively(t *testing.T) {
	raw := rawPlainMessage("rag@example.com", "Synthetic doc", "body", "X-Mail2Rag-Synthetic: TRUE")
	msg, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.True(t, msg.Synthetic)
}

func TestParseMessageExtractsMultipartAlternativePreferringPlain(t *testing.T) {
	boundary := "BOUNDARY123"
	raw := "From: bob@example.com\r\n" +
		"Subject: multi\r\n" +
		"Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"plain version\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		"<p>html version</p>\r\n" +
		"--" + boundary + "--\r\n"

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "plain version")
}

func TestParseMessageFallsBackToHTMLWhenNoPlainPart(t *testing.T) {
	boundary := "BOUNDARY456"
	raw := "From: carol@example.com\r\n" +
		"Subject: html only\r\n" +
		"Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		"<p>Only <b>html</b> here</p>\r\n" +
		"--" + boundary + "--\r\n"

	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Only")
	assert.Contains(t, msg.Body, "html")
	assert.NotContains(t, msg.Body, "<p>")
}

func TestIsChatModeMatchesChatAndQuestionPrefixes(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"chat: what is the refund policy?", true},
		{"Question: how do I reset my password?", true},
		{"CHAT:no space", true},
		{"Re: chat: follow up", false},
		{"Invoice attached", false},
	}
	for _, c := range cases {
		msg := ParsedMessage{Subject: c.subject}
		assert.Equal(t, c.want, msg.IsChatMode(), c.subject)
	}
}

func TestCleanSubjectStripsChatPrefixOnly(t *testing.T) {
	msg := ParsedMessage{Subject: "Question:   What time does it open?"}
	assert.Equal(t, "What time does it open?", msg.CleanSubject())

	msg2 := ParsedMessage{Subject: "Invoice attached"}
	assert.Equal(t, "Invoice attached", msg2.CleanSubject())
}
