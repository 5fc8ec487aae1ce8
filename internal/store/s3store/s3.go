// Package s3store persists repository nodes as objects in an S3 bucket.
// Each node is a zstd-compressed JSON document stored at
// <prefix><node path>/.node, so listing a path with a "/" delimiter yields
// its direct children as common prefixes.
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/zstd"

	"github.com/52poke/kura/internal/connection"
	"github.com/52poke/kura/internal/store"
)

const (
	nodeObject       = ".node"
	updatedAtMetaKey = "updated_at"
	contentEncoding  = "zstd"
	deleteBatchSize  = 1000
)

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

type api interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type Backend struct {
	bucket   string
	prefix   string
	client   api
	uploader uploader
	tracker  *connection.Tracker
}

func New(bucket, prefix string, client *s3.Client, tracker *connection.Tracker) *Backend {
	return newBackend(bucket, prefix, client, manager.NewUploader(client), tracker)
}

func newBackend(bucket, prefix string, client api, up uploader, tracker *connection.Tracker) *Backend {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	if tracker == nil {
		tracker = connection.NewTracker("s3")
	}
	return &Backend{
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
		uploader: up,
		tracker:  tracker,
	}
}

func (b *Backend) Tracker() *connection.Tracker {
	return b.tracker
}

func (b *Backend) dirPrefix(p string) string {
	p = strings.TrimPrefix(store.Clean(p), "/")
	if p == "" {
		return b.prefix
	}
	return b.prefix + p + "/"
}

func (b *Backend) objectKey(p string) string {
	return b.dirPrefix(p) + nodeObject
}

func (b *Backend) Load(ctx context.Context, p string) (store.Properties, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			b.tracker.Succeeded()
			return store.Properties{}, fmt.Errorf("%w: %s", store.ErrNotFound, p)
		}
		b.tracker.Failed(err.Error())
		return store.Properties{}, err
	}
	defer out.Body.Close()
	b.tracker.Succeeded()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return store.Properties{}, err
	}
	return decode(body, aws.ToString(out.ContentEncoding))
}

func (b *Backend) List(ctx context.Context, p string) ([]string, error) {
	prefix := b.dirPrefix(p)
	pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var names []string
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		b.tracker.Record(err)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func (b *Backend) Save(ctx context.Context, p string, props store.Properties) error {
	body, err := encode(props)
	if err != nil {
		return err
	}
	meta := map[string]string{
		updatedAtMetaKey: strconv.FormatInt(time.Now().Unix(), 10),
	}
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(b.bucket),
		Key:             aws.String(b.objectKey(p)),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String(contentEncoding),
		Metadata:        meta,
	})
	b.tracker.Record(err)
	return err
}

// Remove deletes every object below the node's prefix, which includes the
// node itself.
func (b *Backend) Remove(ctx context.Context, p string) error {
	if store.Clean(p) == "/" {
		return errors.New("s3store: refusing to remove the root")
	}
	pager := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.dirPrefix(p)),
	})

	var keys []types.ObjectIdentifier
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		b.tracker.Record(err)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.bucket),
			Delete: &types.Delete{Objects: keys[start:end], Quiet: aws.Bool(true)},
		})
		b.tracker.Record(err)
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete %s: %s", aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func encode(props store.Properties) ([]byte, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(raw, nil), nil
}

func decode(body []byte, encoding string) (store.Properties, error) {
	if encoding == contentEncoding {
		raw, err := decoder.DecodeAll(body, nil)
		if err != nil {
			return store.Properties{}, fmt.Errorf("decompress node: %w", err)
		}
		body = raw
	}
	var props store.Properties
	if err := json.Unmarshal(body, &props); err != nil {
		return store.Properties{}, fmt.Errorf("decode node: %w", err)
	}
	return props, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return false
}
