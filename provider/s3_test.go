package provider

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Provider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*S3Provider)(nil)
}

func TestS3Provider_BuildKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		expect string
	}{
		{"", "test.txt", "test.txt"},
		{"", "/test.txt", "test.txt"},
		{"myprefix", "test.txt", "myprefix/test.txt"},
		{"myprefix/", "test.txt", "myprefix/test.txt"},
		{"myprefix", "/test.txt", "test.txt"},
		{"myprefix/", "/archive/a", "archive/a"},
		{"my/deep/prefix", "some/path", "my/deep/prefix/some/path"},
		{"", "", ""},
		{"myprefix", "", "myprefix"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"+"+tt.path, func(t *testing.T) {
			p := newS3Provider(nil, "bucket", tt.prefix)
			actual := p.buildKey(tt.path)
			if actual != tt.expect {
				t.Errorf("buildKey(%q, %q) = %q; want %q", tt.prefix, tt.path, actual, tt.expect)
			}
		})
	}
}

// fakeS3 is an in-memory bucket implementing s3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string // key -> etag
	sizes   map[string]int64  // key -> content length, 1 when unset
	// copyETag, if set, replaces the etag of copied objects.
	copyETag func(string) string
	copies   int
	deletes  int
}

func newFakeS3(keys map[string]string) *fakeS3 {
	f := &fakeS3{objects: make(map[string]string)}
	for k, v := range keys {
		f.objects[k] = v
	}
	return f
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+len(delim)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			ETag:         aws.String(`"` + f.objects[k] + `"`),
			Size:         aws.Int64(int64(len(k))),
			LastModified: aws.Time(time.Unix(0, 0)),
		})
		if in.MaxKeys != nil && int32(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	return out, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	etag, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	size, ok := f.sizes[aws.ToString(in.Key)]
	if !ok {
		size = 1
	}
	return &s3.HeadObjectOutput{ETag: aws.String(`"` + etag + `"`), ContentLength: aws.Int64(size)}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, srcKey, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	etag, ok := f.objects[srcKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	if f.copyETag != nil {
		etag = f.copyETag(etag)
	}
	f.objects[aws.ToString(in.Key)] = etag
	f.copies++
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	f.deletes++
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = "placeholder"
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func TestS3Conn_ResolveAndCreateContainer(t *testing.T) {
	fake := newFakeS3(map[string]string{"data/A/x": "e1"})
	p := newS3Provider(fake, "bucket", "data")
	ctx := context.Background()
	conn, err := p.Open(ctx)
	require.NoError(t, err)
	defer conn.Close()

	c, err := conn.ResolveContainer(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "/data/A/", c.ID)
	assert.Equal(t, "A", c.Name())

	_, err = conn.ResolveContainer(ctx, "/archive")
	assert.ErrorIs(t, err, ErrNotFound)

	created, err := conn.CreateContainer(ctx, "/archive")
	require.NoError(t, err)
	assert.Equal(t, "/archive/", created.ID)
	assert.True(t, fake.has("archive/"))

	resolved, err := conn.ResolveContainer(ctx, "/archive")
	require.NoError(t, err)
	assert.Equal(t, created, resolved)

	sub, err := conn.ResolveSubContainer(ctx, p.Root(), "A")
	require.NoError(t, err)
	assert.Equal(t, "/data/A/", sub.ID)
}

func TestS3Conn_ListChildren(t *testing.T) {
	fake := newFakeS3(map[string]string{
		"data/":      "placeholder",
		"data/top":   "e0",
		"data/A/x":   "e1",
		"data/A/y":   "e2",
		"data/B/":    "placeholder",
		"data/B/z":   "e3",
		"other/skip": "e4",
	})
	p := newS3Provider(fake, "bucket", "data")
	ctx := context.Background()
	conn, err := p.Open(ctx)
	require.NoError(t, err)

	var containers, leaves []string
	for obj, err := range conn.ListChildren(ctx, p.Root(), []Field{FieldID, FieldProperties}) {
		require.NoError(t, err)
		assert.Equal(t, []string{"/data/"}, obj.Parents)
		if obj.IsContainer {
			containers = append(containers, obj.ID)
		} else {
			leaves = append(leaves, obj.Name)
			assert.Equal(t, "data/top", obj.Properties[PropKey])
		}
	}
	slices.Sort(containers)
	assert.Equal(t, []string{"/data/A/", "/data/B/"}, containers)
	assert.Equal(t, []string{"top"}, leaves)
}

func TestS3Conn_Reparent(t *testing.T) {
	fake := newFakeS3(map[string]string{
		"data/A/x":   "e1",
		"archive/A/": "placeholder",
	})
	p := newS3Provider(fake, "bucket", "data")
	ctx := context.Background()
	conn, err := p.Open(ctx)
	require.NoError(t, err)

	obj, err := conn.Reparent(ctx, "e1", "/data/A/", "/archive/A/")
	require.NoError(t, err)
	assert.Equal(t, "e1", obj.ID)
	assert.Equal(t, "x", obj.Name)
	assert.Equal(t, []string{"/archive/A/"}, obj.Parents)
	assert.True(t, fake.has("archive/A/x"))
	assert.False(t, fake.has("data/A/x"))
}

func TestS3Conn_ReparentRefusesOverwrite(t *testing.T) {
	fake := newFakeS3(map[string]string{
		"data/A/x":    "e1",
		"archive/A/x": "e9",
	})
	p := newS3Provider(fake, "bucket", "data")
	conn, err := p.Open(context.Background())
	require.NoError(t, err)

	_, err = conn.Reparent(context.Background(), "e1", "/data/A/", "/archive/A/")
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Zero(t, fake.copies)
}

func TestS3Conn_ReparentKeepsSourceOnIdentityChange(t *testing.T) {
	fake := newFakeS3(map[string]string{"data/A/x": "e1"})
	fake.copyETag = func(string) string { return "e1-2" }
	p := newS3Provider(fake, "bucket", "data")
	conn, err := p.Open(context.Background())
	require.NoError(t, err)

	obj, err := conn.Reparent(context.Background(), "e1", "/data/A/", "/archive/A/")
	require.NoError(t, err)
	assert.Equal(t, "e1-2", obj.ID)
	assert.True(t, fake.has("data/A/x"))
	assert.Zero(t, fake.deletes)
}

func TestS3Conn_ReparentRejectsOversizedObject(t *testing.T) {
	fake := newFakeS3(map[string]string{"data/A/big": "e1"})
	fake.sizes = map[string]int64{"data/A/big": maxCopyObjectSize + 1}
	p := newS3Provider(fake, "bucket", "data")
	conn, err := p.Open(context.Background())
	require.NoError(t, err)

	_, err = conn.Reparent(context.Background(), "e1", "/data/A/", "/archive/A/")
	assert.ErrorIs(t, err, ErrObjectTooLarge)
	assert.Zero(t, fake.copies)
	assert.Zero(t, fake.deletes)
	assert.True(t, fake.has("data/A/big"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.False(t, isNotFound(errors.New("boom")))
}
