package service_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/memstore"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// brokenObjects fails every upload after the first okUploads and every
// removal.
type brokenObjects struct {
	*memstore.Objects
	okUploads int32
	calls     atomic.Int32
}

func (b *brokenObjects) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if b.calls.Add(1) > b.okUploads {
		return "", &domain.ErrExternalService{Service: "object_store", Err: errors.New("503 service unavailable")}
	}
	return b.Objects.Upload(ctx, bucket, path, data, contentType)
}

func (b *brokenObjects) Remove(context.Context, string, []string) error {
	return errors.New("bucket is read-only")
}

func newDocumentManager(t *testing.T, objects *brokenObjects) (*service.DocumentManager, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	m := service.NewDocumentManager(objects, 2, observability.NewMetrics(), zap.New(core), service.WithClock(func() time.Time { return now }))
	return m, logs
}

func TestValidateSupportingDocuments(t *testing.T) {
	tests := []struct {
		name  string
		files []domain.Attachment
		want  string
	}{
		{"none", nil, ""},
		{"three pdfs", []domain.Attachment{pdf("a.pdf"), pdf("b.pdf"), pdf("c.pdf")}, ""},
		{"four files", []domain.Attachment{pdf("a.pdf"), pdf("b.pdf"), pdf("c.pdf"), pdf("d.pdf")}, "at most 3"},
		{"empty file", []domain.Attachment{{Name: "a.pdf", ContentType: "application/pdf"}}, "empty"},
		{"missing name", []domain.Attachment{{Name: " ", ContentType: "application/pdf", Data: pdfBytes}}, "name is required"},
		{"too large", []domain.Attachment{{Name: "big.pdf", ContentType: "application/pdf", Data: append(append([]byte{}, pdfBytes...), make([]byte, service.MaxDocumentBytes)...)}}, "exceeds 5 MB"},
		{"type not allowed", []domain.Attachment{{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}}, "not allowed"},
		{"content mismatch", []domain.Attachment{{Name: "fake.pdf", ContentType: "application/pdf", Data: pngBytes}}, "content is image/png"},
		{"sniffed when undeclared", []domain.Attachment{{Name: "scan", ContentType: "application/octet-stream", Data: jpegBytes}}, ""},
		{"declared with parameters", []domain.Attachment{{Name: "a.pdf", ContentType: "application/pdf; charset=binary", Data: pdfBytes}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.ValidateSupportingDocuments(tt.files)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			var invalid *domain.ErrInvalidAttachment
			require.ErrorAs(t, err, &invalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateSignature(t *testing.T) {
	assert.NoError(t, service.ValidateSignature(signaturePNG()))
	assert.NoError(t, service.ValidateSignature(domain.Attachment{Name: "sig.jpg", ContentType: "image/jpeg", Data: jpegBytes}))

	err := service.ValidateSignature(pdf("sig.pdf"))
	assert.Equal(t, domain.KindInvalidAttachment, domain.KindOf(err))

	big := append(append([]byte{}, pngBytes...), make([]byte, service.MaxSignatureBytes)...)
	err = service.ValidateSignature(domain.Attachment{Name: "sig.png", ContentType: "image/png", Data: big})
	assert.Equal(t, domain.KindInvalidAttachment, domain.KindOf(err))
}

func TestUploadSupportingDocuments_PartialFailure(t *testing.T) {
	objects := &brokenObjects{Objects: memstore.NewObjects(""), okUploads: 1}
	m, logs := newDocumentManager(t, objects)

	files := []domain.Attachment{pdf("plan.pdf"), pdf("lease.pdf"), pdf("id.pdf")}
	docs, err := m.UploadSupportingDocuments(context.Background(), "u1", files)

	var partial *domain.ErrPartialUpload
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "lease.pdf", partial.Failed)
	require.Len(t, partial.Stored, 1)
	assert.Equal(t, "plan.pdf", partial.Stored[0].Name)
	assert.Equal(t, partial.Stored, docs)
	assert.Equal(t, domain.KindPartialUpload, domain.KindOf(err))

	// nothing is rolled back
	assert.Equal(t, 1, objects.Len())
	assert.Equal(t, 1, logs.FilterMessage("supporting document upload failed").Len())
}

func TestUploadSupportingDocuments_SameNameKeepsBoth(t *testing.T) {
	objects := &brokenObjects{Objects: memstore.NewObjects(""), okUploads: 10}
	m, _ := newDocumentManager(t, objects)

	first := append(append([]byte{}, pdfBytes...), 'A')
	second := append(append([]byte{}, pdfBytes...), 'B')
	files := []domain.Attachment{
		{Name: "scan.pdf", ContentType: "application/pdf", Data: first},
		{Name: "scan.pdf", ContentType: "application/pdf", Data: second},
	}
	docs, err := m.UploadSupportingDocuments(context.Background(), "u1", files)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.NotEqual(t, docs[0].URL, docs[1].URL)
	assert.Equal(t, "scan.pdf", docs[0].Name)
	assert.Equal(t, "scan.pdf", docs[1].Name)
	assert.Equal(t, 2, objects.Len())

	batch := millis(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	obj, ok := objects.Get(service.BucketApplicationDocuments, "u1/"+batch+"-0-scan.pdf")
	require.True(t, ok)
	assert.Equal(t, first, obj.Data)
	obj, ok = objects.Get(service.BucketApplicationDocuments, "u1/"+batch+"-1-scan.pdf")
	require.True(t, ok)
	assert.Equal(t, second, obj.Data)
}

func TestUploadSignature_Path(t *testing.T) {
	objects := &brokenObjects{Objects: memstore.NewObjects("https://cdn.example.com"), okUploads: 10}
	m, _ := newDocumentManager(t, objects)

	obj, err := m.UploadSignature(context.Background(), "u1", domain.Attachment{Name: "sig.jpg", ContentType: "image/jpeg", Data: jpegBytes})
	require.NoError(t, err)
	assert.Equal(t, service.BucketContracts, obj.Bucket)
	assert.Equal(t, "signatures/signature-u1-"+millis(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))+".jpg", obj.Path)
	assert.True(t, strings.HasPrefix(obj.URL, "https://cdn.example.com/contracts/signatures/"))
}

func TestDiscard_LogsFailures(t *testing.T) {
	objects := &brokenObjects{Objects: memstore.NewObjects(""), okUploads: 10}
	m, logs := newDocumentManager(t, objects)

	m.Discard(context.Background(), service.BucketContracts, "signatures/a.png")

	entries := logs.FilterMessage("failed to discard objects").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}
