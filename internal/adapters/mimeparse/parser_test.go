package mimeparse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParse_Headers(t *testing.T) {
	raw := crlf(`From: Alice Example <alice@example.com>
To: bob@example.com
Subject: =?UTF-8?B?TWVldGluZzogcGxhbm5pbmc=?=
Message-ID: <abc123@example.com>
Date: Tue, 14 May 2024 09:30:00 -0400
Content-Type: text/plain; charset=utf-8

See you tomorrow.
`)

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Meeting: planning", msg.Subject)
	assert.Equal(t, "abc123@example.com", msg.MessageID)
	assert.Equal(t, "Alice Example <alice@example.com>", msg.From)
	assert.True(t, msg.Date.Equal(time.Date(2024, 5, 14, 13, 30, 0, 0, time.UTC)))
	assert.Contains(t, msg.Body.Text, "See you tomorrow.")
	assert.Empty(t, msg.Body.HTML)

	candidate := msg.Candidate(7)
	assert.Equal(t, uint32(7), candidate.UID)
	assert.Equal(t, "abc123@example.com", candidate.MessageID)
	assert.Equal(t, "Meeting: planning", candidate.Subject)
	assert.Equal(t, msg.From, candidate.From)
}

func TestParse_Parts(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantHTML string
	}{
		{
			name: "alternative keeps both",
			raw: `From: a@example.com
Subject: Meeting
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

Plain body
--b1
Content-Type: text/html; charset=utf-8

<p>HTML body</p>
--b1--
`,
			wantText: "Plain body",
			wantHTML: "<p>HTML body</p>",
		},
		{
			name: "html only",
			raw: `From: a@example.com
Subject: Meeting
MIME-Version: 1.0
Content-Type: text/html; charset=utf-8

<p>Only HTML</p>
`,
			wantHTML: "<p>Only HTML</p>",
		},
		{
			name: "attachment ignored",
			raw: `From: a@example.com
Subject: Meeting
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b2"

--b2
Content-Type: text/plain; charset=utf-8

Agenda attached
--b2
Content-Type: text/plain; name="agenda.txt"
Content-Disposition: attachment; filename="agenda.txt"

secret attachment text
--b2--
`,
			wantText: "Agenda attached",
		},
		{
			name: "latin1 charset decoded",
			raw: `From: a@example.com
Subject: Lunch
Content-Type: text/plain; charset=iso-8859-1
Content-Transfer-Encoding: quoted-printable

Lunch at the caf=E9
`,
			wantText: "Lunch at the café",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse(crlf(tt.raw))
			require.NoError(t, err)

			if tt.wantText == "" {
				assert.Empty(t, strings.TrimSpace(msg.Body.Text))
			} else {
				assert.Contains(t, msg.Body.Text, tt.wantText)
			}
			if tt.wantHTML == "" {
				assert.Empty(t, strings.TrimSpace(msg.Body.HTML))
			} else {
				assert.Contains(t, msg.Body.HTML, tt.wantHTML)
			}
			assert.NotContains(t, msg.Body.Text, "secret attachment text")
		})
	}
}

func TestParse_NotMIME(t *testing.T) {
	raw := []byte("this line is not a header\nand neither is this one\n")

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, string(raw), msg.Body.Text)
	assert.Empty(t, msg.Subject)
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "bob@example.com", FormatAddress("", "bob@example.com"))
	assert.Equal(t, "Bob <bob@example.com>", FormatAddress("Bob", "bob@example.com"))
}
