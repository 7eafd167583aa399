package smtp

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/mikey/mail2cal/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rawMessage(subject string) []byte {
	return []byte(fmt.Sprintf(
		"From: Alice <alice@example.com>\r\nSubject: %s\r\nMessage-ID: <%s@example.com>\r\nContent-Type: text/plain\r\n\r\nBody of %s\r\n",
		subject, strings.ReplaceAll(strings.ToLower(subject), " ", "-"), subject))
}

func TestMailbox_DeliverSearchMark(t *testing.T) {
	ctx := context.Background()
	mb := NewMailbox("127.0.0.1:0", "", 1<<20, 10, zap.NewNop())

	uid1, err := mb.Deliver(rawMessage("Meeting tomorrow"))
	require.NoError(t, err)
	uid2, err := mb.Deliver(rawMessage("Newsletter"))
	require.NoError(t, err)
	assert.NotEqual(t, uid1, uid2)

	all, err := mb.Search(ctx, core.SearchCriteria{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	matched, err := mb.Search(ctx, core.SearchCriteria{Subject: "MEETING"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, uid1, matched[0].UID)
	assert.Equal(t, "meeting-tomorrow@example.com", matched[0].MessageID)
	assert.Equal(t, "Alice <alice@example.com>", matched[0].From)

	body, err := mb.FetchBody(ctx, uid1)
	require.NoError(t, err)
	assert.Contains(t, body.Text, "Body of Meeting tomorrow")

	require.NoError(t, mb.MarkProcessed(ctx, uid1))
	matched, err = mb.Search(ctx, core.SearchCriteria{Subject: "meeting"})
	require.NoError(t, err)
	assert.Empty(t, matched)

	_, err = mb.FetchBody(ctx, uid1)
	assert.Error(t, err)
	assert.Error(t, mb.MarkProcessed(ctx, uid1))
}

func TestMailbox_SpoolFull(t *testing.T) {
	mb := NewMailbox("127.0.0.1:0", "", 1<<20, 1, zap.NewNop())

	_, err := mb.Deliver(rawMessage("first"))
	require.NoError(t, err)
	_, err = mb.Deliver(rawMessage("second"))
	assert.ErrorIs(t, err, ErrSpoolFull)
}

func TestMailbox_CheckBeforeStart(t *testing.T) {
	mb := NewMailbox("127.0.0.1:0", "", 1<<20, 10, zap.NewNop())

	err := mb.Check(context.Background())
	assert.True(t, core.IsTransportError(err))
	assert.NoError(t, mb.Close())
}

func TestMailbox_ReceivesOverSMTP(t *testing.T) {
	mb := NewMailbox("127.0.0.1:0", "mail2cal.test", 1<<20, 10, zap.NewNop())
	require.NoError(t, mb.Start())
	defer mb.Close()

	require.NoError(t, mb.Check(context.Background()))

	// The intake offers no STARTTLS, so talk to it over a plain session
	c, err := smtp.Dial(mb.Addr())
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Mail("alice@example.com", nil))
	require.NoError(t, c.Rcpt("cal@mail2cal.test", nil))
	w, err := c.Data()
	require.NoError(t, err)
	_, err = w.Write(rawMessage("Meeting over SMTP"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, c.Quit())

	matched, err := mb.Search(context.Background(), core.SearchCriteria{Subject: "over smtp"})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "Meeting over SMTP", matched[0].Subject)
}
