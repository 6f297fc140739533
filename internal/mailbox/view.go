// Package mailbox projects stored messages into the list and detail shapes
// rendered by the web client.
package mailbox

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.io/infrasutra/glassmail/internal/store"
)

const (
	previewLength  = 80
	previewSuffix  = "..."
	defaultAvatar  = "U"
	noSubject      = "(No Subject)"
	unknownSender  = "Unknown"
	unknownAddress = "Recipient"
	dayMillis      = 24 * 60 * 60 * 1000
)

type ListItem struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Avatar  string `json:"avatar"`
	Subject string `json:"subject"`
	Preview string `json:"preview"`
	Time    string `json:"time"`
	Folder  string `json:"folder"`
	Read    bool   `json:"read"`
	Body    string `json:"body"`
}

type Detail struct {
	ListItem
	SenderName    string `json:"senderName"`
	SenderAddress string `json:"senderAddress"`
	Recipients    string `json:"recipients"`
	CreatedAt     string `json:"createdAt"`
}

func Project(message store.Message, now time.Time) ListItem {
	subject := message.Subject
	if subject == "" {
		subject = noSubject
	}
	return ListItem{
		ID:      message.ID,
		Sender:  SenderLabel(message),
		Avatar:  Initials(message.SenderName),
		Subject: subject,
		Preview: Preview(message.Body),
		Time:    RelativeTime(message.CreatedAt, now),
		Folder:  string(message.Folder),
		Read:    message.IsRead,
		Body:    message.Body,
	}
}

func ProjectAll(messages []store.Message, now time.Time) []ListItem {
	items := make([]ListItem, 0, len(messages))
	for _, message := range messages {
		items = append(items, Project(message, now))
	}
	return items
}

func ProjectDetail(message store.Message, now time.Time) Detail {
	return Detail{
		ListItem:      Project(message, now),
		SenderName:    message.SenderName,
		SenderAddress: message.SenderAddress,
		Recipients:    message.Recipients,
		CreatedAt:     message.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SenderLabel shows who a sent message went to, and who any other message
// came from.
func SenderLabel(message store.Message) string {
	if message.Folder == store.FolderSent {
		if message.Recipients == "" {
			return unknownAddress
		}
		return message.Recipients
	}
	if message.SenderName == "" {
		return unknownSender
	}
	return message.SenderName
}

func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(r)
	}
	initials := []rune(strings.ToUpper(b.String()))
	if len(initials) == 0 {
		return defaultAvatar
	}
	if len(initials) > 2 {
		initials = initials[:2]
	}
	return string(initials)
}

// Preview always appends the ellipsis, even to bodies shorter than the cut.
func Preview(body string) string {
	runes := []rune(body)
	if len(runes) > previewLength {
		runes = runes[:previewLength]
	}
	return string(runes) + previewSuffix
}

// RelativeTime floors the millisecond delta into whole days, so "Yesterday"
// means 24 to 48 hours ago rather than the previous calendar day.
func RelativeTime(createdAt, now time.Time) string {
	delta := now.Sub(createdAt).Milliseconds()
	days := int(math.Floor(float64(delta) / dayMillis))

	switch {
	case days <= 0:
		return createdAt.Format("03:04 PM")
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return createdAt.Format("1/2/2006")
	}
}
