package imapclient

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// parseBody extracts the plain text and HTML alternatives from a raw
// RFC 5322 message. Attachments are ignored; only inline text parts
// matter to the pipeline.
func parseBody(raw []byte) (bodyText, bodyHTML string, err error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		body, _ := io.ReadAll(msg.Body)
		return string(body), "", nil
	}

	encoding := msg.Header.Get("Content-Transfer-Encoding")

	switch {
	case strings.HasPrefix(mediaType, "text/plain"):
		body, _ := io.ReadAll(decodeTransfer(msg.Body, encoding))
		return string(body), "", nil
	case strings.HasPrefix(mediaType, "text/html"):
		body, _ := io.ReadAll(decodeTransfer(msg.Body, encoding))
		return "", string(body), nil
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			body, _ := io.ReadAll(msg.Body)
			return string(body), "", nil
		}
		text, html := parseMultipart(multipart.NewReader(msg.Body, boundary))
		return text, html, nil
	default:
		return "", "", nil
	}
}

func parseMultipart(reader *multipart.Reader) (bodyText, bodyHTML string) {
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}

		if strings.Contains(part.Header.Get("Content-Disposition"), "attachment") {
			continue
		}

		mediaType, params, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		encoding := part.Header.Get("Content-Transfer-Encoding")

		switch {
		case strings.HasPrefix(mediaType, "text/plain") && bodyText == "":
			body, _ := io.ReadAll(decodeTransfer(part, encoding))
			bodyText = string(body)
		case strings.HasPrefix(mediaType, "text/html") && bodyHTML == "":
			body, _ := io.ReadAll(decodeTransfer(part, encoding))
			bodyHTML = string(body)
		case strings.HasPrefix(mediaType, "multipart/"):
			if boundary := params["boundary"]; boundary != "" {
				subText, subHTML := parseMultipart(multipart.NewReader(part, boundary))
				if bodyText == "" {
					bodyText = subText
				}
				if bodyHTML == "" {
					bodyHTML = subHTML
				}
			}
		}
	}
	return
}

// decodeTransfer undoes quoted-printable transfer encoding. Base64 bodies
// for text parts are rare in progress emails and pass through as-is.
func decodeTransfer(r io.Reader, encoding string) io.Reader {
	if strings.EqualFold(strings.TrimSpace(encoding), "quoted-printable") {
		return quotedprintable.NewReader(r)
	}
	return r
}
