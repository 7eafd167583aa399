package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mikey/mail2cal/internal/adapters/mimeparse"
	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
)

// Mailbox implements core.Mailbox over one authenticated IMAP session.
// The session is dialed lazily and redialed after any command failure.
// Every command is bounded by the timeout and by the caller's context.
type Mailbox struct {
	address       string
	username      string
	password      string
	mailbox       string
	processedFlag imap.Flag
	timeout       time.Duration
	logger        *zap.Logger

	dial func(ctx context.Context) (net.Conn, error)

	mu     sync.Mutex
	conn   *deadlineConn
	client *imapclient.Client
}

// NewMailbox creates a new IMAP mailbox
func NewMailbox(
	address string,
	username string,
	password string,
	mailbox string,
	processedFlag string,
	timeout time.Duration,
	logger *zap.Logger,
) *Mailbox {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if processedFlag == "" {
		processedFlag = string(imap.FlagSeen)
	}
	m := &Mailbox{
		address:       address,
		username:      username,
		password:      password,
		mailbox:       mailbox,
		processedFlag: imap.Flag(processedFlag),
		timeout:       timeout,
		logger:        logger,
	}
	m.dial = m.dialTLS
	return m
}

func (m *Mailbox) dialTLS(ctx context.Context) (net.Conn, error) {
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: m.timeout}}
	return dialer.DialContext(ctx, "tcp", m.address)
}

// bound limits the connection deadlines for one command to the timeout or
// the context deadline, whichever comes first. Cancelling ctx aborts the
// command. The returned func lifts the limit so the idle session is not
// torn down between polls.
func (m *Mailbox) bound(ctx context.Context) func() {
	conn := m.conn
	if conn == nil {
		return func() {}
	}

	var deadline time.Time
	if m.timeout > 0 {
		deadline = time.Now().Add(m.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.limitTo(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.limitTo(time.Now())
	})
	return func() {
		stop()
		_ = conn.limitTo(time.Time{})
	}
}

// session returns the current client, dialing and selecting the mailbox
// if needed. Callers hold m.mu.
func (m *Mailbox) session(ctx context.Context) (*imapclient.Client, error) {
	if m.client != nil {
		return m.client, nil
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return nil, &core.TransportError{Op: "imap.dial", Err: fmt.Errorf("connecting to IMAP %s: %w", m.address, err)}
	}
	m.conn = &deadlineConn{Conn: conn}
	release := m.bound(ctx)
	defer release()

	client := imapclient.New(m.conn, nil)

	if err := client.Login(m.username, m.password).Wait(); err != nil {
		_ = client.Close()
		m.conn = nil
		// Only a server response rejects the credentials; anything else is the connection
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, &core.AuthError{Backend: "imap", Err: fmt.Errorf("authentication failed for %s: %w", m.username, err)}
		}
		return nil, &core.TransportError{Op: "imap.login", Err: err}
	}

	if _, err := client.Select(m.mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		m.conn = nil
		return nil, &core.TransportError{Op: "imap.select", Err: fmt.Errorf("selecting %s: %w", m.mailbox, err)}
	}

	m.logger.Debug("IMAP session established",
		zap.String("address", m.address),
		zap.String("mailbox", m.mailbox))

	m.client = client
	return client, nil
}

// drop discards a session after a failed command so the next call redials
func (m *Mailbox) drop() {
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
	m.conn = nil
}

// Check verifies that the server is reachable and the credentials work
func (m *Mailbox) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.session(ctx)
	if err != nil {
		return err
	}
	defer m.bound(ctx)()
	if err := client.Noop().Wait(); err != nil {
		m.drop()
		return &core.TransportError{Op: "imap.noop", Err: err}
	}
	return nil
}

// Search returns the messages matching the subject filter that do not
// carry the processed flag, in UID order
func (m *Mailbox) Search(ctx context.Context, criteria core.SearchCriteria) ([]core.CandidateMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	defer m.bound(ctx)()

	searchData, err := client.UIDSearch(searchCriteria(m.processedFlag, criteria), nil).Wait()
	if err != nil {
		m.drop()
		return nil, &core.TransportError{Op: "imap.search", Err: fmt.Errorf("searching messages: %w", err)}
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
	})
	defer fetchCmd.Close()

	messages := make([]core.CandidateMessage, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			m.logger.Warn("Failed to read message envelope", zap.Error(err))
			continue
		}
		messages = append(messages, candidateFromBuffer(buf))
	}

	if err := fetchCmd.Close(); err != nil {
		m.drop()
		return nil, &core.TransportError{Op: "imap.fetch", Err: fmt.Errorf("fetching envelopes: %w", err)}
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].UID < messages[j].UID
	})

	return messages, nil
}

// FetchBody retrieves and decodes the full message without setting \Seen
func (m *Mailbox) FetchBody(ctx context.Context, uid uint32) (*core.MessageBody, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.session(ctx)
	if err != nil {
		return nil, err
	}
	defer m.bound(ctx)()

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		_ = fetchCmd.Close()
		return nil, &core.TransportError{Op: "imap.fetch", Err: fmt.Errorf("message UID %d not found", uid)}
	}

	buf, err := msg.Collect()
	if err != nil {
		m.drop()
		return nil, &core.TransportError{Op: "imap.fetch", Err: fmt.Errorf("collecting message data: %w", err)}
	}

	if err := fetchCmd.Close(); err != nil {
		m.drop()
		return nil, &core.TransportError{Op: "imap.fetch", Err: fmt.Errorf("closing fetch: %w", err)}
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return &core.MessageBody{}, nil
	}

	parsed, err := mimeparse.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message UID %d: %w", uid, err)
	}
	return &parsed.Body, nil
}

// MarkProcessed adds the processed flag to a message
func (m *Mailbox) MarkProcessed(ctx context.Context, uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.session(ctx)
	if err != nil {
		return err
	}
	defer m.bound(ctx)()

	storeCmd := client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{m.processedFlag},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		m.drop()
		return &core.TransportError{Op: "imap.store", Err: fmt.Errorf("setting %s on UID %d: %w", m.processedFlag, uid, err)}
	}
	return nil
}

// Close logs out and closes the session
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	release := m.bound(context.Background())
	_ = m.client.Logout().Wait()
	release()
	err := m.client.Close()
	m.client = nil
	m.conn = nil
	return err
}

// deadlineConn caps the deadlines the IMAP client sets on its connection
// with the limit of the command in flight. The client manages its own
// read and write timeouts per response, which would otherwise override a
// plain SetDeadline.
type deadlineConn struct {
	net.Conn

	mu    sync.Mutex
	limit time.Time
	read  time.Time
	write time.Time
}

func (c *deadlineConn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read, c.write = t, t
	return c.apply()
}

func (c *deadlineConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read = t
	return c.apply()
}

func (c *deadlineConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.write = t
	return c.apply()
}

func (c *deadlineConn) limitTo(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = t
	return c.apply()
}

func (c *deadlineConn) apply() error {
	if err := c.Conn.SetReadDeadline(earliest(c.read, c.limit)); err != nil {
		return err
	}
	return c.Conn.SetWriteDeadline(earliest(c.write, c.limit))
}

// earliest returns the sooner of two deadlines, where zero means none
func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

// searchCriteria selects unprocessed messages, optionally by subject
func searchCriteria(processedFlag imap.Flag, criteria core.SearchCriteria) *imap.SearchCriteria {
	search := &imap.SearchCriteria{
		NotFlag: []imap.Flag{processedFlag},
	}
	if criteria.Subject != "" {
		search.Header = []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: criteria.Subject},
		}
	}
	return search
}

// candidateFromBuffer extracts a CandidateMessage from a FetchMessageBuffer
func candidateFromBuffer(buf *imapclient.FetchMessageBuffer) core.CandidateMessage {
	msg := core.CandidateMessage{
		UID:        uint32(buf.UID),
		ReceivedAt: buf.InternalDate,
	}

	if buf.Envelope != nil {
		msg.MessageID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		if !buf.Envelope.Date.IsZero() {
			msg.ReceivedAt = buf.Envelope.Date
		}
		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			msg.From = mimeparse.FormatAddress(from.Name, from.Addr())
		}
	}

	return msg
}
