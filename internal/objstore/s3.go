package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client implements Client against an S3-compatible store using
// aws-sdk-go-v2. The SDK's own retryer is disabled; retry policy lives in
// withRetry so that all backends share one classification.
type s3Client struct {
	api    *s3.Client
	bucket string
	prefix string
	opts   Options
	hc     *http.Client
}

func newS3Backend(ctx context.Context, cs *ConnString, opts Options) (Client, error) {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: opts.KeepAlive,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        opts.MaxInflight,
		MaxIdleConnsPerHost: opts.MaxInflight,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	hc := &http.Client{
		Transport: transport,
		Timeout:   opts.RequestTimeout,
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cs.Region),
		awsconfig.WithHTTPClient(hc),
	}
	if cs.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cs.AccessKey, cs.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cs.Endpoint != "" {
			o.BaseEndpoint = aws.String(cs.Endpoint)
		}
		o.UsePathStyle = cs.ForcePathStyle
		o.Retryer = aws.NopRetryer{}
	})

	return &s3Client{
		api:    api,
		bucket: cs.Bucket,
		prefix: cs.Prefix,
		opts:   opts,
		hc:     hc,
	}, nil
}

func (c *s3Client) fullKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + "/" + key
}

func (c *s3Client) Put(ctx context.Context, key string, meta Metadata, body []byte, contentType string) error {
	full := c.fullKey(key)
	return withRetry(ctx, c.opts.RetryMaxElapsed, key, func() error {
		_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(c.bucket),
			Key:         aws.String(full),
			Body:        bytes.NewReader(body),
			Metadata:    meta,
			ContentType: aws.String(contentType),
		})
		return err
	})
}

func (c *s3Client) Get(ctx context.Context, key string) (*Object, error) {
	full := c.fullKey(key)
	var obj *Object
	err := withRetry(ctx, c.opts.RetryMaxElapsed, key, func() error {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(full),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		body, err := io.ReadAll(out.Body)
		if err != nil {
			return err
		}
		obj = &Object{
			Key:          key,
			Metadata:     Metadata(out.Metadata),
			Body:         body,
			ContentType:  aws.ToString(out.ContentType),
			ETag:         aws.ToString(out.ETag),
			Size:         aws.ToInt64(out.ContentLength),
			LastModified: aws.ToTime(out.LastModified),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *s3Client) Head(ctx context.Context, key string) (*Object, error) {
	full := c.fullKey(key)
	var obj *Object
	err := withRetry(ctx, c.opts.RetryMaxElapsed, key, func() error {
		out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(full),
		})
		if err != nil {
			return err
		}
		obj = &Object{
			Key:          key,
			Metadata:     Metadata(out.Metadata),
			ContentType:  aws.ToString(out.ContentType),
			ETag:         aws.ToString(out.ETag),
			Size:         aws.ToInt64(out.ContentLength),
			LastModified: aws.ToTime(out.LastModified),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *s3Client) Delete(ctx context.Context, key string) error {
	full := c.fullKey(key)
	return withRetry(ctx, c.opts.RetryMaxElapsed, key, func() error {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(full),
		})
		return err
	})
}

func (c *s3Client) List(ctx context.Context, prefix, token string, limit int) (*ListPage, error) {
	fullPrefix := c.fullKey(prefix)
	if limit <= 0 {
		limit = 1000
	}
	var page *ListPage
	err := withRetry(ctx, c.opts.RetryMaxElapsed, prefix, func() error {
		in := &s3.ListObjectsV2Input{
			Bucket:  aws.String(c.bucket),
			Prefix:  aws.String(fullPrefix),
			MaxKeys: aws.Int32(int32(limit)),
		}
		if token != "" {
			in.ContinuationToken = aws.String(token)
		}
		out, err := c.api.ListObjectsV2(ctx, in)
		if err != nil {
			return err
		}
		page = &ListPage{
			NextToken: aws.ToString(out.NextContinuationToken),
			Truncated: aws.ToBool(out.IsTruncated),
		}
		strip := ""
		if c.prefix != "" {
			strip = c.prefix + "/"
		}
		for _, o := range out.Contents {
			k := aws.ToString(o.Key)
			if strip != "" && len(k) > len(strip) && k[:len(strip)] == strip {
				k = k[len(strip):]
			}
			page.Keys = append(page.Keys, k)
			page.Entries = append(page.Entries, ListEntry{
				Key:          k,
				Size:         aws.ToInt64(o.Size),
				LastModified: aws.ToTime(o.LastModified),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *s3Client) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}
