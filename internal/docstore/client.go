// Package docstore provides MinIO-backed document storage for the extraction
// service: fetching source PDFs and storing extracted text.
package docstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/paperviz/pdf-extract-service/pkg/types"
)

// Client handles document store operations.
type Client struct {
	minioClient  *minio.Client
	resultBucket string
}

// NewClient creates a new document store client.
func NewClient(endpoint, accessKey, secretKey, resultBucket string) (*Client, error) {
	if accessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY environment variable is required")
	}
	if secretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY environment variable is required")
	}
	if resultBucket == "" {
		return nil, fmt.Errorf("RESULT_BUCKET must not be empty")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': %w (expected format: https://hostname:port)", endpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT scheme '%s': must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': missing hostname", endpoint)
	}

	minioClient, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client for %s: %w", u.Host, err)
	}

	return &Client{
		minioClient:  minioClient,
		resultBucket: resultBucket,
	}, nil
}

// EnsureResultBucket creates the result bucket if it does not exist yet.
func (c *Client) EnsureResultBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.resultBucket)
	if err != nil {
		return fmt.Errorf("failed to check result bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.minioClient.MakeBucket(ctx, c.resultBucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create result bucket: %w", err)
	}
	logrus.WithField("bucket", c.resultBucket).Info("Created result bucket")
	return nil
}

// FetchDocument downloads a source document to a temporary file and returns
// its path and size. The reference is either an object URL or a plain
// "bucket/key" locator. The temporary file is removed on every error path;
// on success the caller owns it.
func (c *Client) FetchDocument(ctx context.Context, reference string) (string, int64, error) {
	bucketName, objectName, err := parseReference(reference)
	if err != nil {
		return "", 0, err
	}

	tempFile, err := os.CreateTemp("", "extract-doc-*.pdf")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tempFile.Close() // Close errors are not critical
	}()

	tempPath := tempFile.Name()

	objInfo, err := c.minioClient.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		_ = os.Remove(tempPath) // Cleanup errors are not critical
		return "", 0, fmt.Errorf("failed to stat object: %w", err)
	}

	totalSize := objInfo.Size

	object, err := c.minioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		_ = os.Remove(tempPath) // Cleanup errors are not critical
		return "", 0, fmt.Errorf("failed to get object: %w", err)
	}
	defer func() {
		_ = object.Close() // Close errors are not critical
	}()

	downloaded, err := io.Copy(tempFile, object)
	if err != nil {
		_ = os.Remove(tempPath) // Cleanup errors are not critical
		return "", 0, fmt.Errorf("failed to download document: %w", err)
	}

	if downloaded != totalSize {
		_ = os.Remove(tempPath) // Cleanup errors are not critical
		return "", 0, fmt.Errorf("download incomplete: got %d bytes, expected %d", downloaded, totalSize)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": bucketName,
		"object": objectName,
		"bytes":  downloaded,
	}).Debug("Downloaded source document")

	return tempPath, downloaded, nil
}

// StoreText uploads extracted text and returns its "bucket/key" location.
func (c *Client) StoreText(ctx context.Context, documentID string, mode types.Mode, text string) (string, error) {
	objectName := resultObjectName(documentID, mode)
	contentType := "text/plain; charset=utf-8"
	if mode == types.ModeMarkdown {
		contentType = "text/markdown; charset=utf-8"
	}

	reader := strings.NewReader(text)
	_, err := c.minioClient.PutObject(ctx, c.resultBucket, objectName, reader, int64(len(text)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to store extracted text: %w", err)
	}

	return c.resultBucket + "/" + objectName, nil
}

// Cleanup removes a temporary file
func (c *Client) Cleanup(tempPath string) error {
	if tempPath != "" {
		err := os.Remove(tempPath)
		if err != nil {
			return fmt.Errorf("failed to cleanup temp file: %w", err)
		}
	}
	return nil
}

func resultObjectName(documentID string, mode types.Mode) string {
	ext := "txt"
	if mode == types.ModeMarkdown {
		ext = "md"
	}
	return fmt.Sprintf("%s/extracted_text.%s", documentID, ext)
}

// parseReference resolves a source reference into bucket and object names.
// Accepted forms: "https://host/bucket/key...", "s3://bucket/key...",
// or a bare "bucket/key..." locator.
func parseReference(reference string) (string, string, error) {
	path := reference
	if strings.Contains(reference, "://") {
		u, err := url.Parse(reference)
		if err != nil {
			return "", "", fmt.Errorf("invalid source reference: %w", err)
		}
		if u.Scheme == "s3" {
			objectName := strings.TrimPrefix(u.Path, "/")
			if u.Host == "" || objectName == "" {
				return "", "", fmt.Errorf("invalid source reference: %s", reference)
			}
			return u.Host, objectName, nil
		}
		path = u.Path
	}

	pathParts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(pathParts) < 2 || pathParts[0] == "" || pathParts[1] == "" {
		return "", "", fmt.Errorf("invalid source reference path: %s", reference)
	}

	return pathParts[0], pathParts[1], nil
}
