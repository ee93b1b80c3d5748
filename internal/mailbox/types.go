package mailbox

import "strings"

// Provider wire shapes for the message API. The payload mirrors the
// Gmail-style part tree: a message is either a single part or a
// multipart node whose children nest arbitrarily deep.

// RawMessage is a provider message as returned by the get endpoint
type RawMessage struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"` // epoch millis as string
	Payload      *RawPart `json:"payload"`
	Raw          string   `json:"raw"` // base64url RFC822, set when fetched raw
}

// RawPart is one node of the MIME part tree
type RawPart struct {
	MimeType string      `json:"mimeType"`
	Filename string      `json:"filename"`
	Headers  []RawHeader `json:"headers"`
	Body     RawBody     `json:"body"`
	Parts    []*RawPart  `json:"parts"`
}

// RawHeader is a single message header
type RawHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawBody carries part content, base64url-encoded
type RawBody struct {
	Data         string `json:"data"`
	AttachmentID string `json:"attachmentId"`
	Size         int    `json:"size"`
}

// Header returns the value of a named header, case-insensitively
func (p *RawPart) Header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// listResponse is the provider list endpoint payload
type listResponse struct {
	Messages           []listEntry `json:"messages"`
	NextPageToken      string      `json:"nextPageToken"`
	ResultSizeEstimate int         `json:"resultSizeEstimate"`
}

type listEntry struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// profileResponse is the provider profile endpoint payload
type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int    `json:"messagesTotal"`
	ThreadsTotal  int    `json:"threadsTotal"`
}
