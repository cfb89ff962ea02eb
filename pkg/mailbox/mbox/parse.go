package mbox

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/Subhangi-2216/KharchaNepal-sub000/pkg/api"
)

var headersKept = []string{"List-Unsubscribe", "List-Id", "Precedence"}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc.NewDecoder().Reader(input), nil
}

// parseMessage turns one RFC 5322 message into a MessageBody and returns its Message-ID.
func parseMessage(data []byte) (api.MessageBody, string, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return api.MessageBody{}, "", fmt.Errorf("reading message: %w", err)
	}

	body := api.MessageBody{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		Sender:  decodeHeader(msg.Header.Get("From")),
		Headers: make(map[string]string),
	}
	for _, name := range headersKept {
		if v := msg.Header.Get(name); v != "" {
			body.Headers[name] = v
		}
	}
	if date, err := msg.Header.Date(); err == nil {
		body.ReceivedAt = date.UTC()
	} else {
		body.ReceivedAt = time.Unix(0, 0).UTC()
	}

	if err := walkPart(msg.Header, msg.Body, &body); err != nil {
		return api.MessageBody{}, "", err
	}
	return body, strings.TrimSpace(msg.Header.Get("Message-Id")), nil
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// partHeader is the subset of header access shared by mail.Header and multipart parts.
type partHeader interface {
	Get(key string) string
}

func walkPart(h partHeader, r io.Reader, body *api.MessageBody) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}

	disposition, _, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	if disposition == "attachment" {
		body.HasAttachments = true
		return nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(r, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading multipart: %w", err)
			}
			if err := walkPart(part.Header, part, body); err != nil {
				return err
			}
		}
	}

	switch {
	case mediaType == "text/plain" && body.BodyText == "":
		text, err := decodeText(h, params, r)
		if err != nil {
			return err
		}
		body.BodyText = text
	case mediaType == "text/html" && body.BodyHTML == "":
		text, err := decodeText(h, params, r)
		if err != nil {
			return err
		}
		body.BodyHTML = text
	case !strings.HasPrefix(mediaType, "text/"):
		body.HasAttachments = true
	}
	return nil
}

func decodeText(h partHeader, params map[string]string, r io.Reader) (string, error) {
	switch strings.ToLower(h.Get("Content-Transfer-Encoding")) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	if cs := strings.ToLower(params["charset"]); cs != "" && cs != "utf-8" && cs != "us-ascii" {
		decoded, err := charsetReader(cs, r)
		if err == nil {
			r = decoded
		}
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decoding body: %w", err)
	}
	return string(b), nil
}
