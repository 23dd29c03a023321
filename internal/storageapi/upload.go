package storageapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// Uploader copies a local file into the slot described by a prepared file.
type Uploader interface {
	Upload(ctx context.Context, file *FileResource, path string) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, file *FileResource, path string) error

// Upload calls f.
func (f UploaderFunc) Upload(ctx context.Context, file *FileResource, path string) error {
	return f(ctx, file, path)
}

// Compile-time checks.
var (
	_ Uploader = (*S3Uploader)(nil)
	_ Uploader = (*GCSUploader)(nil)
	_ Uploader = (*ABSUploader)(nil)
)

func defaultUploaders() map[string]Uploader {
	return map[string]Uploader{
		ProviderAWS:   &S3Uploader{},
		ProviderGCP:   &GCSUploader{},
		ProviderAzure: &ABSUploader{},
	}
}

// S3Uploader uploads with the federation token returned by files/prepare.
type S3Uploader struct {
	// Endpoint overrides the S3 endpoint (path-style addressing) when set.
	Endpoint string
}

func (u *S3Uploader) Upload(ctx context.Context, file *FileResource, path string) error {
	p := file.UploadParams
	if p == nil {
		return errors.New("missing uploadParams")
	}

	opts := s3.Options{
		Region: file.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			p.Credentials.AccessKeyID, p.Credentials.SecretAccessKey, p.Credentials.SessionToken,
		),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	}
	if u.Endpoint != "" {
		opts.BaseEndpoint = aws.String(u.Endpoint)
		opts.UsePathStyle = true
	}
	client := s3.New(opts)

	f, info, err := openForUpload(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	input := &s3.PutObjectInput{
		Bucket:        aws.String(p.Bucket),
		Key:           aws.String(p.Key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if p.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(p.ACL)
	}
	if _, err := client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", p.Bucket, p.Key, err)
	}
	return nil
}

// GCSUploader uploads with the short-lived OAuth token returned by files/prepare.
type GCSUploader struct {
	// Endpoint overrides the GCS endpoint when set.
	Endpoint string
}

func (u *GCSUploader) Upload(ctx context.Context, file *FileResource, path string) error {
	p := file.GCSUploadParams
	if p == nil {
		return errors.New("missing gcsUploadParams")
	}

	tokenType := p.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: p.AccessToken,
			TokenType:   tokenType,
		})),
	}
	if u.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(u.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create GCS client: %w", err)
	}
	defer client.Close() //nolint:errcheck

	f, _, err := openForUpload(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	w := client.Bucket(p.Bucket).Object(p.Key).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", p.Bucket, p.Key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", p.Bucket, p.Key, err)
	}
	return nil
}

// ABSUploader uploads with the SAS connection string returned by files/prepare.
type ABSUploader struct{}

func (u *ABSUploader) Upload(ctx context.Context, file *FileResource, path string) error {
	p := file.ABSUploadParams
	if p == nil {
		return errors.New("missing absUploadParams")
	}

	client, err := azblob.NewClientFromConnectionString(p.ABSCredentials.SASConnectionString, nil)
	if err != nil {
		return fmt.Errorf("create Azure blob client: %w", err)
	}

	f, _, err := openForUpload(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if _, err := client.UploadFile(ctx, p.Container, p.BlobName, f, nil); err != nil {
		return fmt.Errorf("upload %s/%s: %w", p.Container, p.BlobName, err)
	}
	return nil
}

func openForUpload(path string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return f, info, nil
}
