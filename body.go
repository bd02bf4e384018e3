package sdk

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
)

// BinaryBody is sent as-is: it is never JSON-encoded and never carries the
// anti-forgery header. Use it for file uploads.
type BinaryBody struct {
	ContentType string
	Data        []byte
}

// NewMultipartBody builds a multipart/form-data body. The content type,
// boundary included, comes from the writer and must not be set by hand.
func NewMultipartBody(build func(w *multipart.Writer) error) (BinaryBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := build(w); err != nil {
		return BinaryBody{}, err
	}
	if err := w.Close(); err != nil {
		return BinaryBody{}, err
	}
	return BinaryBody{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

// NewFileBody is a multipart body holding a single file part.
func NewFileBody(field, filename string, data []byte) (BinaryBody, error) {
	return NewMultipartBody(func(w *multipart.Writer) error {
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			return err
		}
		_, err = part.Write(data)
		return err
	})
}

type encodedBody struct {
	data        []byte
	contentType string
	binary      bool
}

// encodeBody renders the body once so every retry resends the same bytes.
func encodeBody(body any) (encodedBody, error) {
	switch b := body.(type) {
	case nil:
		return encodedBody{}, nil
	case BinaryBody:
		return encodedBody{data: b.Data, contentType: b.ContentType, binary: true}, nil
	case *BinaryBody:
		if b == nil {
			return encodedBody{}, nil
		}
		return encodedBody{data: b.Data, contentType: b.ContentType, binary: true}, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return encodedBody{}, err
		}
		return encodedBody{data: data, contentType: "application/json"}, nil
	}
}
