package imapclient

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

// Message is one fetched mailbox message, reduced to what the pipeline
// consumes.
type Message struct {
	UID       imap.UID
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	BodyText  string
	BodyHTML  string
}

// Client holds IMAP connection settings. Connections are short-lived: one
// session per poll tick.
type Client struct {
	host     string
	port     int
	username string
	password string
	folder   string
	logger   *zap.Logger
}

func NewClient(host string, port int, username, password, folder string, logger *zap.Logger) *Client {
	if folder == "" {
		folder = "INBOX"
	}
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		folder:   folder,
		logger:   logger,
	}
}

// Session is one logged-in IMAP connection with the folder selected.
type Session struct {
	client *imapclient.Client
	folder string
	logger *zap.Logger
}

// Connect dials the server over TLS, logs in and selects the folder.
func (c *Client) Connect() (*Session, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName: c.host,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	if _, err := client.Select(c.folder, nil).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to select folder %s: %w", c.folder, err)
	}

	return &Session{client: client, folder: c.folder, logger: c.logger}, nil
}

// TestConnection verifies host, credentials and folder in one round trip.
func (c *Client) TestConnection() error {
	session, err := c.Connect()
	if err != nil {
		return err
	}
	session.Close()
	return nil
}

func (s *Session) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

// FetchUnseen returns every message in the folder without the \Seen flag,
// with envelope and body parsed. Messages that fail to parse are skipped
// and logged, never fatal for the batch.
func (s *Session) FetchUnseen() ([]Message, error) {
	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("unseen search failed: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchOptions := &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}

	uidSet := imap.UIDSetNum(uids...)
	fetchCmd := s.client.Fetch(uidSet, fetchOptions)

	var messages []Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		msgData, err := msg.Collect()
		if err != nil {
			s.logger.Warn("Failed to collect message", zap.Error(err))
			continue
		}

		m := Message{UID: msgData.UID}
		if msgData.Envelope != nil {
			m.MessageID = msgData.Envelope.MessageID
			m.Subject = msgData.Envelope.Subject
			m.Date = msgData.Envelope.Date
			if len(msgData.Envelope.From) > 0 {
				from := msgData.Envelope.From[0]
				m.From = fmt.Sprintf("%s@%s", from.Mailbox, from.Host)
			}
		}

		for _, section := range msgData.BodySection {
			if len(section.Bytes) == 0 {
				continue
			}
			text, html, err := parseBody(section.Bytes)
			if err != nil {
				s.logger.Warn("Failed to parse message body",
					zap.String("message_id", m.MessageID),
					zap.Error(err))
				continue
			}
			m.BodyText = text
			m.BodyHTML = html
			break
		}

		messages = append(messages, m)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	return messages, nil
}

// MarkSeen sets \Seen on one message. Called per message only after its
// job is durably enqueued, so a crash in between re-fetches the message
// and downstream dedup absorbs the replay.
func (s *Session) MarkSeen(uid imap.UID) error {
	uidSet := imap.UIDSetNum(uid)

	storeCmd := s.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("failed to mark message seen: %w", err)
	}
	return nil
}
