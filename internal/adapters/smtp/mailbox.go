package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/mail2cal/internal/adapters/mimeparse"
	"github.com/mikey/mail2cal/internal/core"
	"go.uber.org/zap"
)

// ErrSpoolFull is returned when no more unprocessed messages can be held
var ErrSpoolFull = errors.New("spool is full")

// Mailbox implements core.Mailbox for messages delivered over SMTP, for
// example by a Postfix transport or a forwarding rule. Received messages
// are held in memory until they are marked processed.
type Mailbox struct {
	listenAddr      string
	domain          string
	maxMessageBytes int64
	spoolSize       int
	logger          *zap.Logger

	server   *smtp.Server
	listener net.Listener

	mu      sync.Mutex
	nextUID uint32
	spool   []*spoolEntry
}

type spoolEntry struct {
	uid uint32
	msg *mimeparse.Message
}

// NewMailbox creates a new SMTP intake mailbox
func NewMailbox(
	listenAddr string,
	domain string,
	maxMessageBytes int64,
	spoolSize int,
	logger *zap.Logger,
) *Mailbox {
	if domain == "" {
		domain = "localhost"
	}
	if spoolSize <= 0 {
		spoolSize = 1000
	}
	return &Mailbox{
		listenAddr:      listenAddr,
		domain:          domain,
		maxMessageBytes: maxMessageBytes,
		spoolSize:       spoolSize,
		logger:          logger,
	}
}

// Start binds the listen address and serves SMTP in the background
func (m *Mailbox) Start() error {
	listener, err := net.Listen("tcp", m.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.listenAddr, err)
	}

	m.server = smtp.NewServer(&backend{mailbox: m})
	m.server.Addr = m.listenAddr
	m.server.Domain = m.domain
	m.server.ReadTimeout = 30 * time.Second
	m.server.WriteTimeout = 30 * time.Second
	m.server.MaxMessageBytes = m.maxMessageBytes
	m.server.MaxRecipients = 50
	m.listener = listener

	m.logger.Info("SMTP intake starting", zap.String("address", listener.Addr().String()))

	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			m.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, useful when listening on port 0
func (m *Mailbox) Addr() string {
	if m.listener == nil {
		return m.listenAddr
	}
	return m.listener.Addr().String()
}

// Deliver parses a raw message and adds it to the spool
func (m *Mailbox) Deliver(raw []byte) (uint32, error) {
	msg, err := mimeparse.Parse(raw)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.spool) >= m.spoolSize {
		return 0, ErrSpoolFull
	}

	m.nextUID++
	m.spool = append(m.spool, &spoolEntry{uid: m.nextUID, msg: msg})
	return m.nextUID, nil
}

// Check reports whether the SMTP listener is running
func (m *Mailbox) Check(_ context.Context) error {
	if m.server == nil {
		return &core.TransportError{Op: "smtp.listen", Err: errors.New("SMTP intake not started")}
	}
	return nil
}

// Search returns spooled messages whose subject contains the filter,
// compared case-insensitively as IMAP SUBJECT search does
func (m *Mailbox) Search(_ context.Context, criteria core.SearchCriteria) ([]core.CandidateMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := strings.ToLower(criteria.Subject)
	var messages []core.CandidateMessage
	for _, entry := range m.spool {
		if needle != "" && !strings.Contains(strings.ToLower(entry.msg.Subject), needle) {
			continue
		}
		messages = append(messages, entry.msg.Candidate(entry.uid))
	}
	return messages, nil
}

// FetchBody returns the decoded body of a spooled message
func (m *Mailbox) FetchBody(_ context.Context, uid uint32) (*core.MessageBody, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.spool {
		if entry.uid == uid {
			body := entry.msg.Body
			return &body, nil
		}
	}
	return nil, fmt.Errorf("message UID %d not found", uid)
}

// MarkProcessed removes a message from the spool
func (m *Mailbox) MarkProcessed(_ context.Context, uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, entry := range m.spool {
		if entry.uid == uid {
			m.spool = append(m.spool[:i], m.spool[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("message UID %d not found", uid)
}

// Close stops the SMTP server
func (m *Mailbox) Close() error {
	if m.server != nil {
		return m.server.Close()
	}
	return nil
}

// backend implements the go-smtp Backend interface
type backend struct {
	mailbox *Mailbox
}

// NewSession creates a new SMTP session
func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{mailbox: b.mailbox}, nil
}

// session implements the go-smtp Session interface
type session struct {
	mailbox *Mailbox
	sender  string
}

// Reset resets the session state
func (s *session) Reset() {
	s.sender = ""
}

// Mail sets the sender address
func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt accepts any recipient
func (s *session) Rcpt(_ string, _ *smtp.RcptOptions) error {
	return nil
}

// Data spools the message
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.mailbox.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	uid, err := s.mailbox.Deliver(raw)
	if errors.Is(err, ErrSpoolFull) {
		s.mailbox.logger.Warn("Spool full, deferring message", zap.String("sender", s.sender))
		return &smtp.SMTPError{
			Code:         452,
			EnhancedCode: smtp.EnhancedCode{4, 3, 1},
			Message:      "Spool full, try again later",
		}
	}
	if err != nil {
		s.mailbox.logger.Error("Failed to parse message", zap.Error(err))
		return err
	}

	s.mailbox.logger.Info("Spooled message",
		zap.Uint32("uid", uid),
		zap.String("sender", s.sender))
	return nil
}

// Logout handles SMTP logout
func (s *session) Logout() error {
	return nil
}
