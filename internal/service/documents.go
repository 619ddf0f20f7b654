package service

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Buckets of the object store.
const (
	BucketApplicationDocuments = "application-documents"
	BucketContracts            = "contracts"
	BucketContractTemplates    = "contract-templates"
)

const (
	MaxSupportingDocuments = 3
	MaxDocumentBytes       = 5 << 20
	MaxSignatureBytes      = 2 << 20
	MaxTemplateBytes       = 10 << 20
)

var (
	documentTypes  = []string{"application/pdf", "image/jpeg", "image/png"}
	signatureTypes = []string{"image/png", "image/jpeg"}
	templateTypes  = []string{"application/pdf"}
)

// attachmentRule is the set of constraints one kind of upload must meet.
type attachmentRule struct {
	maxBytes int64
	types    []string
}

var (
	documentRule  = attachmentRule{maxBytes: MaxDocumentBytes, types: documentTypes}
	signatureRule = attachmentRule{maxBytes: MaxSignatureBytes, types: signatureTypes}
	templateRule  = attachmentRule{maxBytes: MaxTemplateBytes, types: templateTypes}
)

// StoredObject locates one uploaded object.
type StoredObject struct {
	Bucket string
	Path   string
	URL    string
}

// DocumentManager validates attachments and moves them into the object store.
type DocumentManager struct {
	objects  port.ObjectStore
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewDocumentManager creates a document manager. concurrency bounds the
// uploads in flight across all requests.
func NewDocumentManager(objects port.ObjectStore, concurrency int, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *DocumentManager {
	o := buildOptions(opts)
	if concurrency <= 0 {
		concurrency = 10
	}
	return &DocumentManager{
		objects:  objects,
		bulkhead: resilience.NewBulkhead(concurrency),
		metrics:  metrics,
		logger:   logger,
		now:      o.now,
	}
}

// ============================================================
// Validation
// ============================================================

// ValidateSupportingDocuments checks count, size and type of every file
// without touching the object store.
func ValidateSupportingDocuments(files []domain.Attachment) error {
	if len(files) > MaxSupportingDocuments {
		return &domain.ErrInvalidAttachment{Reason: fmt.Sprintf("at most %d files may be attached, got %d", MaxSupportingDocuments, len(files))}
	}
	for _, f := range files {
		if _, err := documentRule.check(f); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSignature checks a signature image.
func ValidateSignature(image domain.Attachment) error {
	_, err := signatureRule.check(image)
	return err
}

// check returns the content type the file is stored with.
func (r attachmentRule) check(f domain.Attachment) (string, error) {
	name := cleanName(f.Name)
	if name == "" {
		return "", &domain.ErrInvalidAttachment{Reason: "file name is required"}
	}
	if f.Size() == 0 {
		return "", &domain.ErrInvalidAttachment{File: name, Reason: "file is empty"}
	}
	if f.Size() > r.maxBytes {
		return "", &domain.ErrInvalidAttachment{File: name, Reason: fmt.Sprintf("file exceeds %d MB", r.maxBytes>>20)}
	}

	detected := mimetype.Detect(f.Data)
	declared := baseMediaType(f.ContentType)
	if declared == "" || declared == "application/octet-stream" {
		declared = baseMediaType(detected.String())
	}
	if !contains(r.types, declared) {
		return "", &domain.ErrInvalidAttachment{File: name, Reason: fmt.Sprintf("type %s is not allowed (allowed: %s)", declared, strings.Join(r.types, ", "))}
	}
	if !detected.Is(declared) {
		return "", &domain.ErrInvalidAttachment{File: name, Reason: fmt.Sprintf("content is %s, declared %s", detected.String(), declared)}
	}
	return declared, nil
}

func baseMediaType(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}

// cleanName drops any directory part a client sent with the file name.
func cleanName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), `\`, "/")
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ============================================================
// Uploads
// ============================================================

// UploadSupportingDocuments validates every file first and then stores them
// in input order under {owner}/{unixMillis}-{index}-{name}, so files that
// share a name stay distinct. When an upload fails the
// documents stored so far are returned in *ErrPartialUpload and are not
// rolled back.
func (m *DocumentManager) UploadSupportingDocuments(ctx context.Context, ownerID string, files []domain.Attachment) ([]domain.Document, error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.UploadSupportingDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", ownerID), attribute.Int("files.count", len(files)))

	if err := ValidateSupportingDocuments(files); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(files))
	batch := m.now().UnixMilli()
	for i, f := range files {
		contentType, _ := documentRule.check(f)
		name := cleanName(f.Name)
		objectPath := fmt.Sprintf("%s/%d-%d-%s", ownerID, batch, i, name)

		url, err := m.put(ctx, BucketApplicationDocuments, objectPath, f.Data, contentType)
		if err != nil {
			m.logger.Error("supporting document upload failed",
				zap.String("user_id", ownerID),
				zap.String("file", name),
				zap.Int("stored", len(docs)),
				zap.Error(err),
			)
			return docs, &domain.ErrPartialUpload{Stored: docs, Failed: name, Err: err}
		}
		docs = append(docs, domain.Document{Name: name, URL: url, Type: contentType, Size: f.Size()})
	}
	return docs, nil
}

// UploadSignature stores a signature image under
// signatures/signature-{owner}-{unixMillis}.{ext}.
func (m *DocumentManager) UploadSignature(ctx context.Context, ownerID string, image domain.Attachment) (StoredObject, error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.UploadSignature")
	defer span.End()

	contentType, err := signatureRule.check(image)
	if err != nil {
		return StoredObject{}, err
	}
	ext := "png"
	if contentType == "image/jpeg" {
		ext = "jpg"
	}
	objectPath := fmt.Sprintf("signatures/signature-%s-%d.%s", ownerID, m.now().UnixMilli(), ext)

	url, err := m.put(ctx, BucketContracts, objectPath, image.Data, contentType)
	if err != nil {
		return StoredObject{}, fmt.Errorf("upload signature: %w", err)
	}
	return StoredObject{Bucket: BucketContracts, Path: objectPath, URL: url}, nil
}

// UploadTemplateFile stores a contract template PDF under
// contract-templates/{unixMillis}-{name}.
func (m *DocumentManager) UploadTemplateFile(ctx context.Context, file domain.Attachment) (StoredObject, error) {
	ctx, span := tracer.Start(ctx, "DocumentManager.UploadTemplateFile")
	defer span.End()

	contentType, err := templateRule.check(file)
	if err != nil {
		return StoredObject{}, err
	}
	objectPath := fmt.Sprintf("contract-templates/%d-%s", m.now().UnixMilli(), cleanName(file.Name))

	url, err := m.put(ctx, BucketContractTemplates, objectPath, file.Data, contentType)
	if err != nil {
		return StoredObject{}, fmt.Errorf("upload template file: %w", err)
	}
	return StoredObject{Bucket: BucketContractTemplates, Path: objectPath, URL: url}, nil
}

// Locate returns the retrieval URL of an existing object.
func (m *DocumentManager) Locate(bucket, objectPath string) string {
	return m.objects.PublicURL(bucket, objectPath)
}

// Discard removes objects left behind by a failed operation. Failures are
// logged and otherwise ignored.
func (m *DocumentManager) Discard(ctx context.Context, bucket string, paths ...string) {
	ctx, span := tracer.Start(ctx, "DocumentManager.Discard")
	defer span.End()

	if len(paths) == 0 {
		return
	}
	if err := m.objects.Remove(ctx, bucket, paths); err != nil {
		m.metrics.IncrExternalError("object_store")
		m.logger.Warn("failed to discard objects",
			zap.String("bucket", bucket),
			zap.Strings("paths", paths),
			zap.Error(err),
		)
	}
}

func (m *DocumentManager) put(ctx context.Context, bucket, objectPath string, data []byte, contentType string) (string, error) {
	var url string
	err := m.bulkhead.Do(ctx, func() error {
		var err error
		url, err = m.objects.Upload(ctx, bucket, objectPath, data, contentType)
		return err
	})
	if err != nil {
		m.metrics.IncrExternalError("object_store")
		return "", err
	}
	m.metrics.AddUploadedBytes(bucket, int64(len(data)))
	return url, nil
}
