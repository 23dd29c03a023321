package storageapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// File staging providers returned by files/prepare.
const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"
)

// S3Credentials is the federation token issued for an upload.
type S3Credentials struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
}

// S3UploadParams locates the staging object on AWS stacks.
type S3UploadParams struct {
	Bucket      string        `json:"bucket"`
	Key         string        `json:"key"`
	ACL         string        `json:"acl"`
	Credentials S3Credentials `json:"credentials"`
}

// GCSUploadParams locates the staging object on GCP stacks.
type GCSUploadParams struct {
	ProjectID   string `json:"projectId"`
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ABSCredentials carries the SAS connection string for Azure uploads.
type ABSCredentials struct {
	SASConnectionString string `json:"SASConnectionString"`
}

// ABSUploadParams locates the staging blob on Azure stacks.
type ABSUploadParams struct {
	AccountName    string         `json:"accountName"`
	Container      string         `json:"container"`
	BlobName       string         `json:"blobName"`
	ABSCredentials ABSCredentials `json:"absCredentials"`
}

// FileResource is a prepared file upload slot.
type FileResource struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Provider        string           `json:"provider"`
	Region          string           `json:"region"`
	UploadParams    *S3UploadParams  `json:"uploadParams,omitempty"`
	GCSUploadParams *GCSUploadParams `json:"gcsUploadParams,omitempty"`
	ABSUploadParams *ABSUploadParams `json:"absUploadParams,omitempty"`
}

// FilePrepareRequest is the body of files/prepare.
type FilePrepareRequest struct {
	Name            string `json:"name"`
	SizeBytes       int64  `json:"sizeBytes"`
	FederationToken bool   `json:"federationToken"`
	IsPermanent     bool   `json:"isPermanent"`
	Notify          bool   `json:"notify"`
	IsSliced        bool   `json:"isSliced"`
}

// PrepareFileUpload reserves a staging slot for a file.
func (c *Client) PrepareFileUpload(ctx context.Context, req FilePrepareRequest) (*FileResource, error) {
	var f FileResource
	if err := c.send(ctx, http.MethodPost, "/files/prepare", nil, req, &f); err != nil {
		return nil, fmt.Errorf("prepare upload of %s: %w", req.Name, err)
	}
	return &f, nil
}

// UploadFile stages a local file in the stack's object store and returns the
// prepared file resource.
func (c *Client) UploadFile(ctx context.Context, path string) (*FileResource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	file, err := c.PrepareFileUpload(ctx, FilePrepareRequest{
		Name:            filepath.Base(path),
		SizeBytes:       info.Size(),
		FederationToken: true,
	})
	if err != nil {
		return nil, err
	}

	uploader, ok := c.uploaders[file.Provider]
	if !ok {
		return nil, fmt.Errorf("file %d: unsupported staging provider %q", file.ID, file.Provider)
	}
	if err := uploader.Upload(ctx, file, path); err != nil {
		return nil, fmt.Errorf("upload file %d via %s: %w", file.ID, file.Provider, err)
	}
	return file, nil
}
