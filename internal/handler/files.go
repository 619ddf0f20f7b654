package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/boddenberg/franchise-core-go/internal/domain"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// parseMultipart reads a multipart body of at most maxBytes.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &domain.ErrInvalidAttachment{Reason: fmt.Sprintf("request exceeds %d bytes", maxBytes)}
		}
		return &domain.ErrValidation{Field: "body", Message: "invalid multipart form"}
	}
	return nil
}

// formFiles reads every file sent under field, in the order received.
func formFiles(r *http.Request, field string) ([]domain.Attachment, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]
	out := make([]domain.Attachment, 0, len(headers))
	for _, fh := range headers {
		a, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// formFile reads exactly one file sent under field.
func formFile(r *http.Request, field string) (domain.Attachment, error) {
	files, err := formFiles(r, field)
	if err != nil {
		return domain.Attachment{}, err
	}
	switch len(files) {
	case 0:
		return domain.Attachment{}, &domain.ErrValidation{Field: field, Message: "file is required"}
	case 1:
		return files[0], nil
	}
	return domain.Attachment{}, &domain.ErrValidation{Field: field, Message: "exactly one file is expected"}
}

func readPart(fh *multipart.FileHeader) (domain.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.Attachment{}, &domain.ErrInvalidAttachment{File: fh.Filename, Reason: "unreadable file"}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return domain.Attachment{}, &domain.ErrInvalidAttachment{File: fh.Filename, Reason: "unreadable file"}
	}
	return domain.Attachment{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// applicationFieldsFromForm turns the text fields of a multipart form into
// a JSON object so it goes through the same schema as a JSON body. ok is
// false when the form carries none of the fields.
func applicationFieldsFromForm(r *http.Request) (body []byte, ok bool, err error) {
	obj := make(map[string]any)
	for _, key := range []string{"contact_name", "contact_phone", "contact_email", "intended_city", "investment_amount", "experience_description"} {
		if vs, found := r.MultipartForm.Value[key]; found && len(vs) > 0 {
			obj[key] = vs[0]
		}
	}
	if len(obj) == 0 {
		return nil, false, nil
	}
	body, err = json.Marshal(obj)
	return body, true, err
}
