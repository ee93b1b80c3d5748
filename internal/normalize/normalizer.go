// Package normalize converts provider-specific raw messages into the
// canonical Message shape. Normalization never fails outright: malformed
// input yields a best-effort record flagged as incomplete, so one bad
// message cannot sink a batch.
package normalize

import (
	"encoding/base64"
	"io"
	netmail "net/mail"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"

	"github.com/inboxsift/inboxsift/internal/mailbox"
	"github.com/inboxsift/inboxsift/pkg/models"
)

const snippetLength = 200

// Normalizer is a pure raw-message-to-Message converter
type Normalizer struct {
	html *htmlToText
}

// New creates a normalizer
func New() *Normalizer {
	return &Normalizer{html: newHTMLToText()}
}

// Normalize builds a canonical Message from a raw provider message.
// Plain text is preferred for the body; when only HTML is present the
// text field is derived from it. Missing headers become empty strings.
func (n *Normalizer) Normalize(raw *mailbox.RawMessage, userEmail string) *models.Message {
	msg := &models.Message{
		ID:        raw.ID,
		UserEmail: userEmail,
		ThreadID:  raw.ThreadID,
		Snippet:   raw.Snippet,
		Labels:    flattenLabels(raw.LabelIDs),
	}

	var bodyText, bodyHTML string
	var attachments int

	switch {
	case raw.Payload != nil:
		msg.Sender = cleanAddress(raw.Payload.Header("From"))
		msg.Recipient = raw.Payload.Header("To")
		msg.Subject = raw.Payload.Header("Subject")
		msg.ReceivedAt = n.parseDate(raw, raw.Payload.Header("Date"))
		bodyText, bodyHTML, attachments = n.walkParts(raw.Payload, msg)
	case raw.Raw != "":
		n.fromRFC822(raw, msg, &bodyText, &bodyHTML, &attachments)
	default:
		msg.ReceivedAt = n.parseDate(raw, "")
		msg.Incomplete = true
	}

	if bodyText == "" && bodyHTML != "" {
		stripped, err := n.html.Strip(bodyHTML)
		if err != nil {
			msg.Incomplete = true
		}
		bodyText = stripped
	}

	msg.BodyText = strings.TrimSpace(bodyText)
	msg.BodyHTML = bodyHTML
	msg.AttachmentCount = attachments
	msg.HasAttachments = attachments > 0

	if msg.Snippet == "" && msg.BodyText != "" {
		msg.Snippet = strings.Join(strings.Fields(truncate(msg.BodyText, snippetLength)), " ")
	}

	return msg
}

// walkParts collects text bodies and attachment counts from the part tree
func (n *Normalizer) walkParts(part *mailbox.RawPart, msg *models.Message) (text, html string, attachments int) {
	if part.Filename != "" {
		attachments++
	}

	switch {
	case strings.EqualFold(part.MimeType, "text/plain"):
		decoded, ok := decodeBody(part.Body.Data)
		if !ok {
			msg.Incomplete = true
		}
		text += decoded
	case strings.EqualFold(part.MimeType, "text/html"):
		decoded, ok := decodeBody(part.Body.Data)
		if !ok {
			msg.Incomplete = true
		}
		html += decoded
	}

	for _, child := range part.Parts {
		t, h, a := n.walkParts(child, msg)
		text += t
		html += h
		attachments += a
	}
	return text, html, attachments
}

// fromRFC822 handles providers that hand back the full RFC822 blob
// instead of a part tree.
func (n *Normalizer) fromRFC822(raw *mailbox.RawMessage, msg *models.Message, bodyText, bodyHTML *string, attachments *int) {
	blob, ok := decodeBody(raw.Raw)
	if !ok {
		msg.Incomplete = true
		msg.ReceivedAt = n.parseDate(raw, "")
		return
	}

	reader, err := mail.CreateReader(strings.NewReader(blob))
	if err != nil {
		msg.Incomplete = true
		msg.ReceivedAt = n.parseDate(raw, "")
		return
	}
	defer reader.Close()

	header := reader.Header
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	}
	if to, err := header.AddressList("To"); err == nil && len(to) > 0 {
		addrs := make([]string, len(to))
		for i, a := range to {
			addrs[i] = a.Address
		}
		msg.Recipient = strings.Join(addrs, ", ")
	}
	if subject, err := header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := header.Date(); err == nil {
		msg.ReceivedAt = date
	} else {
		msg.ReceivedAt = n.parseDate(raw, "")
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			msg.Incomplete = true
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			content, err := io.ReadAll(part.Body)
			if err != nil {
				msg.Incomplete = true
				continue
			}
			switch contentType {
			case "text/plain":
				*bodyText += string(content)
			case "text/html":
				*bodyHTML += string(content)
			}
		case *mail.AttachmentHeader:
			*attachments++
		}
	}
}

// parseDate resolves the received timestamp: Date header, then the
// provider internal date, then now.
func (n *Normalizer) parseDate(raw *mailbox.RawMessage, dateHeader string) time.Time {
	if dateHeader != "" {
		if t, err := netmail.ParseDate(dateHeader); err == nil {
			return t
		}
	}
	if raw.InternalDate != "" {
		if ms, err := strconv.ParseInt(raw.InternalDate, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms)
		}
	}
	return time.Now()
}

// decodeBody decodes a base64url body with lax padding
func decodeBody(data string) (string, bool) {
	if data == "" {
		return "", true
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

// cleanAddress reduces "Name <addr@host>" to the bare address
func cleanAddress(headerValue string) string {
	if headerValue == "" {
		return ""
	}
	if addr, err := netmail.ParseAddress(headerValue); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(headerValue)
}

// truncate cuts s at limit bytes, never splitting a rune
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// flattenLabels produces a stable, ordered label set
func flattenLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
