package filestore

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Publisher makes a file reachable by URL for a limited time.
type Publisher interface {
	Publish(ctx context.Context, data []byte, filename, mimeType string) (string, error)
}

// LinkPublisher stores files in a Store and returns links to the API's
// /files/{token} route.
type LinkPublisher struct {
	store   Store
	baseURL string
}

// NewLinkPublisher returns a publisher serving files under baseURL.
func NewLinkPublisher(store Store, baseURL string) *LinkPublisher {
	return &LinkPublisher{store: store, baseURL: strings.TrimRight(baseURL, "/")}
}

func (p *LinkPublisher) Publish(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	token, err := p.store.Put(ctx, data, filename, mimeType)
	if err != nil {
		return "", err
	}
	return p.baseURL + "/files/" + token, nil
}

// ObjectPutter is the subset of *s3.Client used by S3Publisher.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectPresigner is the subset of *s3.PresignClient used by S3Publisher.
type ObjectPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Publisher uploads files to a bucket and hands out presigned GET URLs.
// Objects should be cleaned up by a bucket lifecycle rule on the prefix.
type S3Publisher struct {
	client    ObjectPutter
	presigner ObjectPresigner
	bucket    string
	prefix    string
	ttl       time.Duration
}

// NewS3Publisher builds a publisher on an S3 client.
func NewS3Publisher(client *s3.Client, bucket string, ttl time.Duration) *S3Publisher {
	return newS3Publisher(client, s3.NewPresignClient(client), bucket, ttl)
}

func newS3Publisher(client ObjectPutter, presigner ObjectPresigner, bucket string, ttl time.Duration) *S3Publisher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &S3Publisher{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		prefix:    "uploads/",
		ttl:       ttl,
	}
}

func (p *S3Publisher) Publish(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	name := path.Base("/" + filename)
	key := p.prefix + token + "/" + name

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(p.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String(mimeType),
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": name})),
		Expires:            aws.Time(time.Now().Add(p.ttl)),
	})
	if err != nil {
		return "", fmt.Errorf("filestore: upload to s3: %w", err)
	}

	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return "", fmt.Errorf("filestore: presign url: %w", err)
	}
	if _, err := url.Parse(req.URL); err != nil {
		return "", fmt.Errorf("filestore: presigned url: %w", err)
	}
	return req.URL, nil
}
