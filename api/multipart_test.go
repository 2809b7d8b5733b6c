package api

import (
	"io"
	"mime/multipart"
	"testing"
)

// newMultipart writes fields and one file part to w and returns the
// request content type.
func newMultipart(t *testing.T, w io.Writer, fields map[string]string, filename, content string) string {
	t.Helper()
	mw := multipart.NewWriter(w)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create file part: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("failed to write file part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return mw.FormDataContentType()
}
