package connector

import (
	"hash/fnv"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/esslab/ess/internal/store"
	"github.com/esslab/ess/internal/textutil"
)

// WireMessage is the Graph-style JSON message shape shared by the graph
// connector and JSON archive exports. Fields missing from older exports are
// recovered from internetMessageHeaders where possible.
type WireMessage struct {
	ID                string          `json:"id"`
	InternetMessageID string          `json:"internetMessageId"`
	ConversationID    string          `json:"conversationId"`
	Subject           string          `json:"subject"`
	From              *WireRecipient  `json:"from"`
	Sender            *WireRecipient  `json:"sender"`
	ToRecipients      []WireRecipient `json:"toRecipients"`
	CcRecipients      []WireRecipient `json:"ccRecipients"`
	BccRecipients     []WireRecipient `json:"bccRecipients"`
	Body              *WireBody       `json:"body"`
	BodyPreview       string          `json:"bodyPreview"`
	ReceivedDateTime  string          `json:"receivedDateTime"`
	SentDateTime      string          `json:"sentDateTime"`
	Importance        string          `json:"importance"`
	IsRead            *bool           `json:"isRead"`
	HasAttachments    *bool           `json:"hasAttachments"`
	Categories        []string        `json:"categories"`
	Flag              *WireFlag       `json:"flag"`
	WebLink           string          `json:"webLink"`
	Headers           []WireHeader    `json:"internetMessageHeaders"`
	Removed           *WireRemoved    `json:"@removed"`
}

type WireRecipient struct {
	EmailAddress WireAddress `json:"emailAddress"`
}

type WireAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type WireBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type WireFlag struct {
	FlagStatus string `json:"flagStatus"`
}

type WireHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type WireRemoved struct {
	Reason string `json:"reason"`
}

// ToEmail normalizes a wire message into the canonical store shape.
// Missing structured participants fall back to raw header parsing, missing
// timestamps fall back from received to sent to ingest time, and text is
// repaired to valid UTF-8.
func (m *WireMessage) ToEmail(accountID, folder string) *store.Email {
	e := &store.Email{
		AccountID:         accountID,
		SourceMessageID:   m.ID,
		InternetMessageID: m.InternetMessageID,
		ConversationID:    m.ConversationID,
		Subject:           textutil.EnsureUTF8(m.Subject),
		Importance:        strings.ToLower(m.Importance),
		Folder:            strings.ToLower(folder),
		Categories:        m.Categories,
		WebLink:           m.WebLink,
	}

	if m.InternetMessageID == "" {
		e.InternetMessageID = m.header("Message-ID")
	}

	from := m.From
	if from == nil {
		from = m.Sender
	}
	if from != nil && from.EmailAddress.Address != "" {
		e.FromAddress = NormalizeAddress(from.EmailAddress.Address)
		e.FromName = strings.TrimSpace(from.EmailAddress.Name)
	} else if raw := m.header("From"); raw != "" {
		addr, name := parseSingleAddress(raw)
		e.FromAddress = addr
		e.FromName = name
	}

	e.ToAddresses = recipientAddresses(m.ToRecipients)
	if len(e.ToAddresses) == 0 {
		e.ToAddresses = ParseAddressList(m.header("To"))
	}
	e.CcAddresses = recipientAddresses(m.CcRecipients)
	if len(e.CcAddresses) == 0 {
		e.CcAddresses = ParseAddressList(m.header("Cc"))
	}
	e.BccAddresses = recipientAddresses(m.BccRecipients)

	if m.Body != nil && m.Body.Content != "" {
		content := textutil.EnsureUTF8(m.Body.Content)
		if strings.EqualFold(m.Body.ContentType, "html") {
			e.BodyHTML = content
			e.BodyText = textutil.HTMLToText(content)
		} else {
			e.BodyText = content
		}
	}
	e.BodyPreview = textutil.EnsureUTF8(m.BodyPreview)
	if e.BodyPreview == "" && e.BodyText != "" {
		e.BodyPreview = textutil.TruncateRunes(e.BodyText, 200)
	}

	e.ReceivedAt = parseWireTime(m.ReceivedDateTime)
	e.SentAt = parseWireTime(m.SentDateTime)
	if e.ReceivedAt.IsZero() {
		if raw := m.header("Date"); raw != "" {
			if t, err := mail.ParseDate(raw); err == nil {
				e.ReceivedAt = t.UTC()
			}
		}
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = e.SentAt
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	if m.IsRead != nil {
		e.IsRead = *m.IsRead
	}
	if m.HasAttachments != nil {
		e.HasAttachments = *m.HasAttachments
	}
	if m.Flag != nil {
		e.FlagStatus = strings.ToLower(m.Flag.FlagStatus)
	}

	if e.ConversationID == "" {
		if topic := m.header("Thread-Topic"); topic != "" {
			e.ConversationID = SyntheticConversationID(topic)
		}
	}

	return e
}

func (m *WireMessage) header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

func recipientAddresses(recipients []WireRecipient) []string {
	var out []string
	for _, r := range recipients {
		if addr := NormalizeAddress(r.EmailAddress.Address); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// NormalizeAddress lowercases and trims an email address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ParseAddressList parses a raw address header ("Alice <a@x>, b@y") into
// normalized addresses. Unparseable input degrades to comma splitting.
func ParseAddressList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if addrs, err := mail.ParseAddressList(raw); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, NormalizeAddress(a.Address))
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if addr := NormalizeAddress(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func parseSingleAddress(raw string) (address, name string) {
	if a, err := mail.ParseAddress(raw); err == nil {
		return NormalizeAddress(a.Address), strings.TrimSpace(a.Name)
	}
	return NormalizeAddress(raw), ""
}

// SyntheticConversationID derives a stable thread identifier from a
// Thread-Topic header for messages without a conversation ID.
func SyntheticConversationID(topic string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(topic))))
	return "topic-" + strconv.FormatUint(h.Sum64(), 16)
}

func parseWireTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
