package chat

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/saharix/chatline/internal/proto"
)

var (
	// ErrEmptyMessage rejects a composition with no text and no attachment.
	ErrEmptyMessage = errors.New("chat: message has no content and no attachment")

	// ErrValidation rejects an attachment that is not an image or is too large.
	ErrValidation = errors.New("chat: invalid attachment")

	// ErrAttachmentRead wraps I/O failures while reading the attachment file.
	ErrAttachmentRead = errors.New("chat: attachment read failed")
)

// MaxAttachmentSize caps attachments at 10 MiB.
const MaxAttachmentSize = 10 << 20

// Composer turns outgoing text plus an optional image file into a
// wire-ready send_message payload for one sender.
type Composer struct {
	SenderID string
}

// Compose validates and builds the payload. The empty-composition check
// runs before any file I/O; text-only compositions never fail.
func (c *Composer) Compose(chatID, text, attachmentPath string) (*proto.MessagePayload, error) {
	if strings.TrimSpace(text) == "" && attachmentPath == "" {
		return nil, ErrEmptyMessage
	}

	payload := &proto.MessagePayload{
		ChatID:   chatID,
		SenderID: c.SenderID,
		Content:  text,
	}
	if attachmentPath == "" {
		return payload, nil
	}

	att, err := readAttachment(attachmentPath)
	if err != nil {
		return nil, err
	}
	payload.Attachment = att
	return payload, nil
}

// readAttachment checks size and type, then pulls the file into memory.
func readAttachment(path string) (*proto.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachmentRead, err)
	}
	if info.Size() > MaxAttachmentSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrValidation, filepath.Base(path), info.Size(), MaxAttachmentSize)
	}

	// When the extension is decisive, reject before pulling any bytes.
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType != "" && !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("%w: %s is %s, only images are allowed", ErrValidation, filepath.Base(path), mimeType)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttachmentRead, err)
	}

	// Fall back to content sniffing when the extension says nothing.
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, fmt.Errorf("%w: %s is %s, only images are allowed", ErrValidation, filepath.Base(path), mimeType)
		}
	}

	return &proto.Attachment{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     int64(len(data)),
		Data:     data,
	}, nil
}
