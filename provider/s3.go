package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ensure interface is implemented
var _ Provider = (*S3Provider)(nil)

// Property keys reported by the S3 provider.
const (
	PropStorageClass = "storage-class"
	PropKey          = "key"
)

// maxCopyObjectSize is the largest source a single CopyObject call accepts.
const maxCopyObjectSize = 5 << 30

// ErrObjectTooLarge is returned for objects a server-side copy cannot move
// without changing their ETag.
var ErrObjectTooLarge = errors.New("object too large for a single copy")

// s3API is the subset of the S3 client the provider calls.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ s3API = (*s3.Client)(nil)

// S3Options configures the S3 client.
type S3Options struct {
	Region   string
	Endpoint string
	// PathStyle forces path-style addressing, needed by most S3-compatible servers.
	PathStyle bool
}

// S3Provider treats key prefixes as containers and objects as leaves.
// Container ids are "/"-rooted prefixes ending in "/"; leaf ids are ETags,
// which a server-side copy preserves.
type S3Provider struct {
	client s3API
	bucket string
	prefix string

	mu    sync.Mutex
	index map[string][]string
}

// NewS3Provider creates a new S3Provider using the default AWS credential chain.
// bucket is the S3 bucket name.
func NewS3Provider(ctx context.Context, bucket string, prefix string, opts S3Options) (*S3Provider, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return newS3Provider(client, bucket, prefix), nil
}

func newS3Provider(client s3API, bucket, prefix string) *S3Provider {
	return &S3Provider{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		index:  make(map[string][]string),
	}
}

// buildKey maps a container path onto a key path. A leading "/" addresses
// the bucket root; anything else is relative to the provider prefix.
func (p *S3Provider) buildKey(subPath string) string {
	if strings.HasPrefix(subPath, "/") {
		return strings.Trim(path.Clean(subPath), "/")
	}
	if p.prefix == "" {
		return strings.Trim(path.Clean("/"+subPath), "/")
	}
	// Avoid double slashes
	key := path.Join(p.prefix, subPath)
	return strings.Trim(key, "/")
}

// s3Container builds the container for a key path without trailing slash.
func s3Container(keyPath string) Container {
	keyPath = strings.Trim(keyPath, "/")
	if keyPath == "" {
		return Container{ID: "/", Path: "/"}
	}
	return Container{ID: "/" + keyPath + "/", Path: "/" + keyPath}
}

// dirPrefix returns the listing prefix of a container id.
func dirPrefix(id string) string {
	return strings.TrimPrefix(id, "/")
}

// Root returns the configured prefix as a container.
func (p *S3Provider) Root() Container {
	return s3Container(p.prefix)
}

// Open returns a session. The SDK client is safe for concurrent use, so
// sessions share it.
func (p *S3Provider) Open(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &s3Conn{p: p}, nil
}

func (p *S3Provider) remember(id, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.index[id], key) {
		p.index[id] = append(p.index[id], key)
	}
}

func (p *S3Provider) forget(id, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := slices.DeleteFunc(p.index[id], func(k string) bool { return k == key })
	if len(keys) == 0 {
		delete(p.index, id)
		return
	}
	p.index[id] = keys
}

// indexed returns a remembered key for id that lives directly in dir.
func (p *S3Provider) indexed(id, dir string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range p.index[id] {
		if keyDir(key) == dir {
			return key, true
		}
	}
	return "", false
}

// keyDir returns the listing prefix that directly contains key.
func keyDir(key string) string {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir + "/"
}

func etagID(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}

// isNotFound classifies the S3 errors that mean an absent key.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

type s3Conn struct {
	p *S3Provider
}

func (c *s3Conn) ResolveContainer(ctx context.Context, pth string) (Container, error) {
	key := c.p.buildKey(pth)
	if key == "" {
		return s3Container(""), nil
	}

	listOut, err := c.p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.p.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return Container{}, fmt.Errorf("resolve %q: %w", pth, err)
	}

	// Either a placeholder object or any key below the prefix makes it a container.
	if len(listOut.Contents) > 0 || len(listOut.CommonPrefixes) > 0 {
		return s3Container(key), nil
	}
	return Container{}, fmt.Errorf("container %q: %w", pth, ErrNotFound)
}

func (c *s3Conn) CreateContainer(ctx context.Context, pth string) (Container, error) {
	key := c.p.buildKey(pth)
	if key == "" {
		return s3Container(""), nil
	}

	// S3 doesn't have true directories, but writing a 0-byte object ending in '/' simulates it
	_, err := c.p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.p.bucket),
		Key:    aws.String(key + "/"),
		Body:   strings.NewReader(""),
	})
	if err != nil {
		return Container{}, fmt.Errorf("failed to write directory placeholder %q: %w", key, err)
	}
	return s3Container(key), nil
}

func (c *s3Conn) LookupContainer(ctx context.Context, id string) (Container, error) {
	if err := ctx.Err(); err != nil {
		return Container{}, err
	}
	if !strings.HasPrefix(id, "/") || !strings.HasSuffix(id, "/") {
		return Container{}, fmt.Errorf("container id %q: %w", id, ErrNotFound)
	}
	return s3Container(id), nil
}

func (c *s3Conn) ResolveSubContainer(ctx context.Context, parent Container, name string) (Container, error) {
	return c.ResolveContainer(ctx, JoinPath("/", parent.Path, name))
}

func (c *s3Conn) ListChildren(ctx context.Context, dir Container, fields []Field) iter.Seq2[Object, error] {
	withProps := slices.Contains(fields, FieldProperties)
	prefix := dirPrefix(dir.ID)

	return func(yield func(Object, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(c.p.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(c.p.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		})

		for paginator.HasMorePages() {
			out, err := paginator.NextPage(ctx)
			if err != nil {
				yield(Object{}, fmt.Errorf("failed to list %q: %w", dir.Path, err))
				return
			}

			// Add common prefixes as containers
			for _, cp := range out.CommonPrefixes {
				sub := aws.ToString(cp.Prefix)
				name := strings.TrimSuffix(strings.TrimPrefix(sub, prefix), "/")
				obj := Object{
					ID:          "/" + sub,
					Name:        name,
					Parents:     []string{dir.ID},
					IsContainer: true,
				}
				if !yield(obj, nil) {
					return
				}
			}

			for _, o := range out.Contents {
				key := aws.ToString(o.Key)
				name := strings.TrimPrefix(key, prefix)
				// the placeholder of the listed container itself
				if name == "" || strings.HasSuffix(name, "/") {
					continue
				}

				obj := Object{
					ID:      etagID(o.ETag),
					Name:    name,
					Parents: []string{dir.ID},
				}
				if withProps {
					obj.Properties = map[string]string{
						PropKey:          key,
						PropSize:         strconv.FormatInt(aws.ToInt64(o.Size), 10),
						PropStorageClass: string(o.StorageClass),
					}
					if o.LastModified != nil {
						obj.Properties[PropModTime] = o.LastModified.UTC().Format(time.RFC3339Nano)
					}
				}
				c.p.remember(obj.ID, key)
				if !yield(obj, nil) {
					return
				}
			}
		}
	}
}

// locate returns the key of objectID directly inside the container oldParentID.
func (c *s3Conn) locate(ctx context.Context, objectID, oldParentID string) (string, error) {
	dir := dirPrefix(oldParentID)
	if key, ok := c.p.indexed(objectID, dir); ok {
		return key, nil
	}

	for obj, err := range c.ListChildren(ctx, Container{ID: oldParentID, Path: "/" + strings.TrimSuffix(dir, "/")}, nil) {
		if err != nil {
			return "", err
		}
		if !obj.IsContainer && obj.ID == objectID {
			return dir + obj.Name, nil
		}
	}
	return "", fmt.Errorf("object %s in %s: %w", objectID, oldParentID, ErrNotFound)
}

func (c *s3Conn) Reparent(ctx context.Context, objectID, oldParentID, newParentID string) (Object, error) {
	srcKey, err := c.locate(ctx, objectID, oldParentID)
	if err != nil {
		return Object{}, err
	}
	name := path.Base(srcKey)
	dstKey := dirPrefix(newParentID) + name

	_, err = c.p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.p.bucket),
		Key:    aws.String(dstKey),
	})
	if err == nil {
		return Object{}, fmt.Errorf("move %s: %s: %w", srcKey, dstKey, ErrAlreadyExists)
	}
	if !isNotFound(err) {
		return Object{}, fmt.Errorf("stat %s: %w", dstKey, err)
	}

	src, err := c.p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.p.bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", srcKey, err)
	}
	if size := aws.ToInt64(src.ContentLength); size > maxCopyObjectSize {
		return Object{}, fmt.Errorf("move %s: %d bytes: %w", srcKey, size, ErrObjectTooLarge)
	}

	copySource := c.p.bucket + "/" + strings.ReplaceAll(url.PathEscape(srcKey), "%2F", "/")
	_, err = c.p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(c.p.bucket),
		Key:               aws.String(dstKey),
		CopySource:        aws.String(copySource),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		return Object{}, fmt.Errorf("copy %s to %s: %w", srcKey, dstKey, err)
	}

	head, err := c.p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.p.bucket),
		Key:    aws.String(dstKey),
	})
	if err != nil {
		return Object{}, fmt.Errorf("stat %s after copy: %w", dstKey, err)
	}
	newID := etagID(head.ETag)

	// Keep the source when the copy does not look like the same object, so
	// nothing is lost before the caller sees the mismatch.
	if newID == objectID {
		if _, err := c.p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.p.bucket),
			Key:    aws.String(srcKey),
		}); err != nil {
			return Object{}, fmt.Errorf("delete %s after copy: %w", srcKey, err)
		}
		c.p.forget(objectID, srcKey)
		c.p.remember(newID, dstKey)
	}

	return Object{
		ID:      newID,
		Name:    name,
		Parents: []string{newParentID},
		Properties: map[string]string{
			PropKey:  dstKey,
			PropSize: strconv.FormatInt(aws.ToInt64(head.ContentLength), 10),
		},
	}, nil
}

func (c *s3Conn) Close() error { return nil }
