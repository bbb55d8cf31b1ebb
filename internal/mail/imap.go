package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/Aman-CERP/mail2rag/internal/config"
)

// imapSource is the production Source, built on
// emersion/go-imap/v2's imapclient package: lazily connect, re-select
// the folder every tick, and drop the session on any error so the
// next tick reconnects from scratch.
type imapSource struct {
	cfg config.MailConfig

	mu     sync.Mutex
	client *imapclient.Client
}

// NewIMAPSource constructs a Source backed by a real IMAP server.
func NewIMAPSource(cfg config.MailConfig) Source {
	return &imapSource{cfg: cfg}
}

func (s *imapSource) EnsureSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		if _, err := s.client.Noop().Wait(); err == nil {
			return nil
		}
		s.client.Close()
		s.client = nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.IMAPHost, s.cfg.IMAPPort)

	var client *imapclient.Client
	var err error
	if s.cfg.IMAPUseTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: &tls.Config{ServerName: s.cfg.IMAPHost}})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("mail: dial imap %s: %w", addr, err)
	}

	if err := client.Login(s.cfg.IMAPUser, s.cfg.IMAPPassword).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("mail: imap login: %w", err)
	}

	folder := s.cfg.IMAPFolder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		client.Close()
		return fmt.Errorf("mail: imap select %s: %w", folder, err)
	}

	s.client = client
	return nil
}

// FetchNewSince searches (user_criteria AND UID > lastUID) and returns
// each matching message in ascending UID order.
func (s *imapSource) FetchNewSince(ctx context.Context, lastUID int64) ([]RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, fmt.Errorf("mail: no active imap session")
	}

	criteria := buildSearchCriteria(s.cfg.UserCriteria, lastUID)
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		s.client.Close()
		s.client = nil
		return nil, fmt.Errorf("mail: imap search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	uidSet := imap.UIDSetNum(uids...)
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOptions)
	defer fetchCmd.Close()

	var messages []RawMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid imap.UID
		var raw []byte
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataBodySection:
				b, err := io.ReadAll(data.Literal)
				if err == nil {
					raw = b
				}
			}
		}
		if uid != 0 && int64(uid) > lastUID {
			messages = append(messages, RawMessage{UID: int64(uid), Raw: raw})
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("mail: imap fetch: %w", err)
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].UID < messages[j].UID })
	return messages, nil
}

func (s *imapSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// buildSearchCriteria translates the free-form user_criteria string
// into a structured imap.SearchCriteria, recognizing a handful of
// common keywords (UNSEEN/SEEN/FLAGGED/UNFLAGGED/ALL); anything else
// is treated as ALL since go-imap/v2 has no raw-string search escape
// hatch.
func buildSearchCriteria(userCriteria string, lastUID int64) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{imap.UIDSet{{Start: imap.UID(lastUID + 1), Stop: 0}}},
	}

	switch strings.ToUpper(strings.TrimSpace(userCriteria)) {
	case "UNSEEN":
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	case "SEEN":
		criteria.Flag = []imap.Flag{imap.FlagSeen}
	case "FLAGGED":
		criteria.Flag = []imap.Flag{imap.FlagFlagged}
	case "UNFLAGGED":
		criteria.NotFlag = []imap.Flag{imap.FlagFlagged}
	}

	return criteria
}
