// Package mimeparse decodes raw RFC 5322 messages into the header fields
// and body parts the inbox processor works with.
package mimeparse

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/mikey/mail2cal/internal/core"
)

// Message is a parsed email
type Message struct {
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	Body      core.MessageBody
}

// Candidate converts the headers into a CandidateMessage with the given UID
func (m *Message) Candidate(uid uint32) core.CandidateMessage {
	return core.CandidateMessage{
		UID:        uid,
		MessageID:  m.MessageID,
		Subject:    m.Subject,
		From:       m.From,
		ReceivedAt: m.Date,
	}
}

// Parse decodes headers and the text/plain and text/html parts of a raw
// message. Attachments are ignored. A message that is not valid MIME is
// treated as plain text.
func Parse(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return &Message{Body: core.MessageBody{Text: string(raw)}}, nil
	}
	defer mr.Close()

	msg := &Message{}
	readHeader(&mr.Header, msg)

	var text, html []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			if len(text) == 0 && len(html) == 0 {
				return nil, fmt.Errorf("failed to read message part: %w", err)
			}
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"), contentType == "":
			text = append(text, string(body))
		case strings.HasPrefix(contentType, "text/html"):
			html = append(html, string(body))
		}
	}

	msg.Body = core.MessageBody{
		Text: strings.Join(text, "\n"),
		HTML: strings.Join(html, "\n"),
	}
	return msg, nil
}

func readHeader(h *mail.Header, msg *Message) {
	if subject, err := h.Subject(); err == nil {
		msg.Subject = subject
	} else {
		msg.Subject = h.Get("Subject")
	}

	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}

	if date, err := h.Date(); err == nil {
		msg.Date = date
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = FormatAddress(from[0].Name, from[0].Address)
	} else {
		msg.From = h.Get("From")
	}
}

// FormatAddress renders a mailbox as "Name <addr>" or the bare address
func FormatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}
