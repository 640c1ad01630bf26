package openapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"qqbot/pkg/delivery"
	"qqbot/pkg/message"
)

// Message types of the v2 (friend and group) endpoints.
const (
	MsgTypeText     = 0
	MsgTypeMarkdown = 2
	MsgTypeArk      = 3
	MsgTypeEmbed    = 4
	MsgTypeMedia    = 7
)

// Rich media file types.
const (
	FileImage = 1
	FileVideo = 2
	FileVoice = 3
	FileFile  = 4
)

var ErrUnsupportedElement = errors.New("element not supported by endpoint")

// FileLoader reads local file references.
type FileLoader interface {
	Load(ctx context.Context, file string) ([]byte, error)
}

// SetLoader lets the client upload local files and paths.
func (c *Client) SetLoader(l FileLoader) { c.loader = l }

type markdownBody struct {
	Content          string                  `json:"content,omitempty"`
	CustomTemplateID string                  `json:"custom_template_id,omitempty"`
	Params           []message.TemplateParam `json:"params,omitempty"`
	Style            map[string]any          `json:"style,omitempty"`
}

type keyboardBody struct {
	ID      string `json:"id,omitempty"`
	Content *struct {
		Rows []message.Row `json:"rows"`
	} `json:"content,omitempty"`
}

func (k *keyboardBody) addRow(row message.Row) {
	if k.Content == nil {
		k.Content = &struct {
			Rows []message.Row `json:"rows"`
		}{}
	}
	k.Content.Rows = append(k.Content.Rows, row)
}

type mediaBody struct {
	FileInfo string `json:"file_info"`
}

type messageReference struct {
	MessageID             string `json:"message_id"`
	IgnoreGetMessageError bool   `json:"ignore_get_message_error"`
}

// Body is one outgoing message request.
type Body struct {
	Content          string            `json:"content,omitempty"`
	MsgType          *int              `json:"msg_type,omitempty"`
	Markdown         *markdownBody     `json:"markdown,omitempty"`
	Keyboard         *keyboardBody     `json:"keyboard,omitempty"`
	Ark              map[string]any    `json:"ark,omitempty"`
	Embed            map[string]any    `json:"embed,omitempty"`
	Media            *mediaBody        `json:"media,omitempty"`
	Image            string            `json:"image,omitempty"`
	MsgID            string            `json:"msg_id,omitempty"`
	EventID          string            `json:"event_id,omitempty"`
	MsgSeq           int               `json:"msg_seq,omitempty"`
	MessageReference *messageReference `json:"message_reference,omitempty"`

	fileImage []byte
}

// Send transmits one packet and returns the platform message id.
func (c *Client) Send(ctx context.Context, kind Kind, t Target, packet message.Packet) (delivery.SendResponse, error) {
	path, err := messagesPath(kind, t)
	if err != nil {
		return delivery.SendResponse{}, err
	}
	body, err := c.Encode(ctx, kind, t, packet)
	if err != nil {
		return delivery.SendResponse{}, err
	}

	var out map[string]any
	if body.fileImage != nil {
		err = c.sendMultipart(ctx, path, body, &out)
	} else {
		err = c.do(ctx, http.MethodPost, path, body, &out)
	}
	if err != nil {
		return delivery.SendResponse{}, err
	}

	id, _ := out["id"].(string)
	return delivery.SendResponse{ID: id, Raw: out}, nil
}

// Encode converts a packet into a request body for kind.
func (c *Client) Encode(ctx context.Context, kind Kind, t Target, packet message.Packet) (*Body, error) {
	v2 := kind == KindFriend || kind == KindGroup
	body := &Body{}
	var content strings.Builder
	msgType := MsgTypeText

	for _, el := range packet {
		switch el.Type {
		case message.ElementText:
			content.WriteString(el.Text)
		case message.ElementAt:
			if v2 {
				continue
			}
			if el.UserID == message.AtAll {
				content.WriteString("@everyone")
			} else {
				content.WriteString("<@" + el.UserID + ">")
			}
		case message.ElementFace:
			if id, ok := el.Data["id"]; ok {
				content.WriteString(fmt.Sprintf("<emoji:%v>", id))
			}
		case message.ElementImage, message.ElementVideo, message.ElementAudio:
			if v2 {
				info, err := c.Upload(ctx, kind, t, fileType(el.Type), el.File)
				if err != nil {
					return nil, err
				}
				body.Media = &mediaBody{FileInfo: info}
				msgType = max(msgType, MsgTypeMedia)
				continue
			}
			if el.Type != message.ElementImage {
				return nil, fmt.Errorf("%w: %s in %s", ErrUnsupportedElement, el.Type, kind)
			}
			if isHTTP(el.File) {
				body.Image = el.File
				continue
			}
			data, err := c.fileBytes(ctx, el.File)
			if err != nil {
				return nil, err
			}
			body.fileImage = data
		case message.ElementMarkdown:
			body.Markdown = &markdownBody{
				Content:          el.Content,
				CustomTemplateID: el.CustomTemplateID,
				Params:           el.Params,
				Style:            el.Style,
			}
			msgType = MsgTypeMarkdown
		case message.ElementButton:
			if body.Keyboard == nil {
				body.Keyboard = &keyboardBody{}
			}
			body.Keyboard.addRow(message.Row{Buttons: el.Buttons})
		case message.ElementKeyboard:
			if el.Keyboard == nil {
				continue
			}
			if body.Keyboard == nil {
				body.Keyboard = &keyboardBody{}
			}
			if el.Keyboard.ID != "" {
				body.Keyboard.ID = el.Keyboard.ID
			}
			for _, row := range el.Keyboard.Rows {
				body.Keyboard.addRow(row)
			}
		case message.ElementReply:
			if el.EventID != "" {
				body.EventID = el.EventID
			} else {
				body.MsgID = el.ID
			}
		case message.ElementArk:
			body.Ark = el.Data
			if msgType == MsgTypeText {
				msgType = MsgTypeArk
			}
		case message.ElementEmbed:
			body.Embed = el.Data
			if msgType == MsgTypeText {
				msgType = MsgTypeEmbed
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedElement, el.Type)
		}
	}

	body.Content = content.String()
	if v2 {
		if msgType == MsgTypeMedia && body.Content == "" {
			body.Content = " "
		}
		body.MsgType = &msgType
		if body.MsgID != "" || body.EventID != "" {
			body.MsgSeq = c.nextSeq()
		}
	}
	return body, nil
}

// Upload registers a rich media file for friend and group messages and
// returns its file_info.
func (c *Client) Upload(ctx context.Context, kind Kind, t Target, fileType int, file string) (string, error) {
	path, err := filesPath(kind, t)
	if err != nil {
		return "", err
	}
	req := map[string]any{"file_type": fileType, "srv_send_msg": false}
	switch {
	case isHTTP(file):
		req["url"] = file
	case strings.HasPrefix(file, base64Prefix):
		req["file_data"] = strings.TrimPrefix(file, base64Prefix)
	default:
		data, err := c.fileBytes(ctx, file)
		if err != nil {
			return "", err
		}
		req["file_data"] = base64.StdEncoding.EncodeToString(data)
	}

	var out struct {
		FileUUID string `json:"file_uuid"`
		FileInfo string `json:"file_info"`
		TTL      int    `json:"ttl"`
	}
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	return out.FileInfo, nil
}

func (c *Client) sendMultipart(ctx context.Context, path string, body *Body, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"content":  body.Content,
		"msg_id":   body.MsgID,
		"event_id": body.EventID,
	}
	if body.Markdown != nil {
		data, _ := json.Marshal(body.Markdown)
		fields["markdown"] = string(data)
	}
	if body.Keyboard != nil {
		data, _ := json.Marshal(body.Keyboard)
		fields["keyboard"] = string(data)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file_image", "image.png")
	if err != nil {
		return err
	}
	if _, err := part.Write(body.fileImage); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return fmt.Errorf("build POST %s: %w", path, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req, out)
}

const base64Prefix = "base64://"

func (c *Client) fileBytes(ctx context.Context, file string) ([]byte, error) {
	if data, ok := strings.CutPrefix(file, base64Prefix); ok {
		return base64.StdEncoding.DecodeString(data)
	}
	if c.loader == nil {
		return nil, fmt.Errorf("%w: local file %q without loader", ErrUnsupportedElement, file)
	}
	return c.loader.Load(ctx, file)
}

func fileType(t message.ElementType) int {
	switch t {
	case message.ElementVideo:
		return FileVideo
	case message.ElementAudio:
		return FileVoice
	default:
		return FileImage
	}
}

func isHTTP(file string) bool {
	return strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://")
}
