package imap

import (
	"slices"
	"strconv"
	"strings"

	imap "github.com/emersion/go-imap/v2"
	mailmime "github.com/wesm/mailhub/internal/mime"
	"github.com/wesm/mailhub/internal/store"
	"github.com/wesm/mailhub/internal/textutil"
)

// Result is one normalized message with its attachments.
type Result struct {
	Email       store.Email
	Attachments []store.Attachment
}

// compositeID identifies a message without a Message-ID header.
func compositeID(folder string, uid imap.UID) string {
	return folder + "|" + strconv.FormatUint(uint64(uid), 10)
}

type folderKind int

const (
	folderOther folderKind = iota
	folderSent
	folderTrash
	folderSpam
	folderDrafts
)

var folderKinds = map[string]folderKind{
	"sent":             folderSent,
	"sent items":       folderSent,
	"sent mail":        folderSent,
	"sent messages":    folderSent,
	"trash":            folderTrash,
	"deleted items":    folderTrash,
	"deleted messages": folderTrash,
	"bin":              folderTrash,
	"spam":             folderSpam,
	"junk":             folderSpam,
	"junk e-mail":      folderSpam,
	"junk email":       folderSpam,
	"drafts":           folderDrafts,
}

// kindOf classifies a folder by its last path component, so "[Gmail]/Sent
// Mail" and "INBOX.Sent" are both sent folders.
func kindOf(folder string) folderKind {
	name := strings.ToLower(folder)
	if i := strings.LastIndexAny(name, "/."); i >= 0 {
		name = name[i+1:]
	}
	return folderKinds[strings.TrimSpace(name)]
}

// applyFlags sets the boolean flags and keyword labels on e.
func applyFlags(e *store.Email, folder string, flags []imap.Flag) {
	kind := kindOf(folder)
	e.IsSent = kind == folderSent
	e.IsTrash = kind == folderTrash
	e.IsSpam = kind == folderSpam
	e.IsDraft = kind == folderDrafts

	e.Labels = []string{folder}
	for _, f := range flags {
		switch {
		case f == imap.FlagSeen:
			e.IsRead = true
		case f == imap.FlagFlagged:
			e.IsStarred = true
		case f == imap.FlagDraft:
			e.IsDraft = true
		case f == imap.FlagDeleted:
			e.IsTrash = true
		case strings.EqualFold(string(f), `\Important`) || strings.EqualFold(string(f), "$Important"):
			e.IsImportant = true
		case strings.EqualFold(string(f), "$Junk") || strings.EqualFold(string(f), "Junk"):
			e.IsSpam = true
		case !strings.HasPrefix(string(f), `\`):
			if !slices.Contains(e.Labels, string(f)) {
				e.Labels = append(e.Labels, string(f))
			}
		}
	}
}

func formatEnvelopeAddrs(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		addr := strings.ToLower(a.Addr())
		if addr == "" {
			continue
		}
		parts = append(parts, mailmime.Address{Name: a.Name, Email: addr}.String())
	}
	return strings.Join(parts, ", ")
}

// fullRecord builds a record from a fetched raw source and its parse.
func fullRecord(folder string, f *fetched, msg *mailmime.Message) Result {
	e := store.Email{
		MessageID: msg.MessageID,
		InReplyTo: msg.InReplyTo,
		UID:       uint32(f.UID),
		Folder:    folder,
		Date:      msg.Date,
		Subject:   msg.Subject,
		From:      mailmime.FormatAddressList(msg.From),
		To:        mailmime.FormatAddressList(msg.To),
		Cc:        mailmime.FormatAddressList(msg.Cc),
		Bcc:       mailmime.FormatAddressList(msg.Bcc),
		ReplyTo:   mailmime.FormatAddressList(msg.ReplyTo),
		BodyText:  msg.PlainText(),
		BodyHTML:  msg.BodyHTML,
		Size:      f.Size,
	}
	if e.MessageID == "" && f.Envelope != nil {
		e.MessageID = mailmime.TrimAngles(f.Envelope.MessageID)
	}
	if e.MessageID == "" {
		e.MessageID = compositeID(folder, f.UID)
	}
	if e.Date.IsZero() {
		e.Date = f.InternalDate.UTC()
	}
	if e.Size == 0 {
		e.Size = int64(len(f.Raw))
	}
	e.ThreadID = threadID(msg.References, msg.InReplyTo, e.MessageID)
	e.Snippet = textutil.Snippet(e.BodyText)
	applyFlags(&e, folder, f.Flags)

	atts := make([]store.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		atts = append(atts, store.Attachment{
			MessageID:   e.MessageID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        int64(a.Size),
			ContentID:   a.ContentID,
			IsInline:    a.IsInline,
		})
	}
	e.AttachmentCount = len(atts)
	e.HasAttachments = len(atts) > 0
	return Result{Email: e, Attachments: atts}
}

// envelopeRecord synthesizes a bodiless record from envelope metadata.
func envelopeRecord(folder string, f *fetched) Result {
	e := store.Email{
		UID:    uint32(f.UID),
		Folder: folder,
		Date:   f.InternalDate.UTC(),
		Size:   f.Size,
	}
	if env := f.Envelope; env != nil {
		e.MessageID = mailmime.TrimAngles(env.MessageID)
		e.Subject = textutil.EnsureUTF8(env.Subject)
		e.From = formatEnvelopeAddrs(env.From)
		e.To = formatEnvelopeAddrs(env.To)
		e.Cc = formatEnvelopeAddrs(env.Cc)
		e.Bcc = formatEnvelopeAddrs(env.Bcc)
		e.ReplyTo = formatEnvelopeAddrs(env.ReplyTo)
		if len(env.InReplyTo) > 0 {
			e.InReplyTo = mailmime.TrimAngles(env.InReplyTo[0])
		}
		if !env.Date.IsZero() {
			e.Date = env.Date.UTC()
		}
	}
	if e.MessageID == "" {
		e.MessageID = compositeID(folder, f.UID)
	}
	e.ThreadID = threadID(nil, e.InReplyTo, e.MessageID)
	applyFlags(&e, folder, f.Flags)
	return Result{Email: e}
}

// threadID uses the root of the reference chain, then the parent, then the
// message itself.
func threadID(refs []string, inReplyTo, messageID string) string {
	if len(refs) > 0 {
		return refs[0]
	}
	if inReplyTo != "" {
		return inReplyTo
	}
	return messageID
}
