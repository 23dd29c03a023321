package storageapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Bucket is a storage bucket as returned by the API. Raw keeps the full
// response object for callers that project it themselves.
type Bucket struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	Description string `json:"description"`
	Backend     string `json:"backend"`
	DisplayName string `json:"displayName"`

	Raw json.RawMessage `json:"-"`
}

// CreateBucketRequest is the body of a bucket creation.
type CreateBucketRequest struct {
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	Description string `json:"description,omitempty"`
	Backend     string `json:"backend,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// DropOptions controls resource removal.
type DropOptions struct {
	Force bool
	Async bool
}

func (o DropOptions) query() url.Values {
	q := url.Values{}
	if o.Force {
		q.Set("force", "1")
	}
	if o.Async {
		q.Set("async", "1")
	}
	return q
}

// CreateBucket creates a bucket and returns it.
func (c *Client) CreateBucket(ctx context.Context, req CreateBucketRequest) (*Bucket, error) {
	var b Bucket
	if err := c.send(ctx, http.MethodPost, "/buckets", nil, req, &b); err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", req.Name, err)
	}
	return &b, nil
}

// GetBucket fetches one bucket.
func (c *Client) GetBucket(ctx context.Context, id string) (*Bucket, error) {
	body, err := c.get(ctx, "/buckets/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("get bucket %s: %w", id, err)
	}
	b, err := decodeBucket(body)
	if err != nil {
		return nil, fmt.Errorf("parse bucket %s: %w", id, err)
	}
	return b, nil
}

// ListBuckets lists every bucket visible to the token.
func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	body, err := c.get(ctx, "/buckets", nil)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	items, err := decodeList(body)
	if err != nil {
		return nil, fmt.Errorf("parse buckets: %w", err)
	}
	out := make([]Bucket, 0, len(items))
	for _, item := range items {
		b, err := decodeBucket(item)
		if err != nil {
			return nil, fmt.Errorf("parse buckets: %w", err)
		}
		out = append(out, *b)
	}
	return out, nil
}

// DropBucket removes a bucket.
func (c *Client) DropBucket(ctx context.Context, id string, opts DropOptions) error {
	if err := c.send(ctx, http.MethodDelete, "/buckets/"+url.PathEscape(id), opts.query(), nil, nil); err != nil {
		return fmt.Errorf("drop bucket %s: %w", id, err)
	}
	return nil
}

func decodeBucket(data []byte) (*Bucket, error) {
	var b Bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	b.Raw = append(json.RawMessage(nil), data...)
	return &b, nil
}
