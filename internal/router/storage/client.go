// Package storage talks to the blob stores: listing and moving source
// blobs, coordinating per-blob leases, caching SAS tokens and dispatching
// verified envelopes to the target accounts.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/logging"
)

// leasePrefix is where lease marker objects live inside a container.
// Markers are invisible to List so pollers never treat them as envelopes.
const leasePrefix = ".leases/"

// api is the subset of the S3 client used by the router. Tests implement
// it with an in-memory fake.
type api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Blob is one listed source object.
type Blob struct {
	Name      string
	CreatedAt time.Time
}

// Client wraps an S3-compatible storage account. Containers map to
// buckets one to one.
type Client struct {
	api api
	log logging.Logger
}

func NewClient(api api, log logging.Logger) *Client {
	return &Client{api: api, log: log}
}

// NewS3Client builds an S3 client for an account with static credentials.
func NewS3Client(ctx context.Context, endpoint, region, accessKey, secretKey string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return client, nil
}

// List returns the container's current blobs, oldest metadata included.
// Lease markers are filtered out.
func (c *Client) List(ctx context.Context, container string) ([]Blob, error) {
	var blobs []Blob
	var continuation *string

	for {
		out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(container),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", container, err)
		}

		for _, obj := range out.Contents {
			name := aws.ToString(obj.Key)
			if strings.HasPrefix(name, leasePrefix) {
				continue
			}
			blobs = append(blobs, Blob{
				Name:      name,
				CreatedAt: aws.ToTime(obj.LastModified),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	return blobs, nil
}

// Download reads a blob's full contents.
func (c *Client) Download(ctx context.Context, container, name string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", container, name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", container, name, err)
	}
	return data, nil
}

// Upload writes a blob. Unless overwrite is set the write is conditional
// (If-None-Match: *) and an existing blob of the same name surfaces as
// common.ErrBlobAlreadyExists instead of being silently replaced.
func (c *Client) Upload(ctx context.Context, container, name string, contents []byte, overwrite bool) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
		Body:   bytes.NewReader(contents),
	}
	if !overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	_, err := c.api.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("upload %s/%s: %w", container, name, common.ErrBlobAlreadyExists)
		}
		return fmt.Errorf("upload %s/%s: %w", container, name, err)
	}
	return nil
}

// Delete removes a blob.
func (c *Client) Delete(ctx context.Context, container, name string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", container, name, err)
	}
	return nil
}

// Copy duplicates a blob within a container.
func (c *Client) Copy(ctx context.Context, container, source, destination string) error {
	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(container),
		Key:        aws.String(destination),
		CopySource: aws.String(url.PathEscape(container + "/" + source)),
	})
	if err != nil {
		return fmt.Errorf("copy %s/%s -> %s: %w", container, source, destination, err)
	}
	return nil
}

// Exists reports whether a blob of that name is present.
func (c *Client) Exists(ctx context.Context, container, name string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("head %s/%s: %w", container, name, err)
	}
	return true, nil
}

// isPreconditionFailed matches the conditional-write conflict responses of
// S3-compatible stores.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
