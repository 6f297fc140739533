package store

import (
	"fmt"
	"time"
)

type Folder string

const (
	FolderInbox  Folder = "inbox"
	FolderSent   Folder = "sent"
	FolderDrafts Folder = "drafts"
	FolderTrash  Folder = "trash"
)

func ParseFolder(value string) (Folder, error) {
	switch Folder(value) {
	case FolderInbox, FolderSent, FolderDrafts, FolderTrash:
		return Folder(value), nil
	}
	return "", fmt.Errorf("unknown folder %q", value)
}

type User struct {
	Email     string
	CreatedAt time.Time
	LastLogin time.Time
}

// Message is a persisted mailbox entry. Recipients holds every address of a
// send as one ", " joined string.
type Message struct {
	ID            string
	SenderName    string
	SenderAddress string
	Recipients    string
	Subject       string
	Body          string
	Folder        Folder
	IsRead        bool
	CreatedAt     time.Time
	OwnerID       string
}
