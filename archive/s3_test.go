package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the handful of S3 calls S3Store makes, path-style, from memory.
// Listings return one key per page so pagination is exercised.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

func newFakeS3Store(t *testing.T) *S3Store {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "snapshots",
		Endpoint:        "https://s3.test",
		PathStyle:       true,
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		HTTPClient:      &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	return s
}

func response(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	q := req.URL.Query()

	if req.Method == http.MethodGet && q.Get("list-type") == "2" {
		return f.list(q.Get("prefix"), q.Get("continuation-token")), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return response(http.StatusNotFound, nil, nil), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"` + etagOf(obj.body) + `"`},
			"Last-Modified":  {time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		for k, v := range obj.metadata {
			h.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			return response(http.StatusOK, nil, h), nil
		}
		return response(http.StatusOK, obj.body, h), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		md := map[string]string{}
		for k, v := range req.Header {
			if name, ok := strings.CutPrefix(strings.ToLower(k), "x-amz-meta-"); ok {
				md[name] = v[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		return response(http.StatusOK, nil, http.Header{"Etag": {`"` + etagOf(body) + `"`}}), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return response(http.StatusNoContent, nil, nil), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(prefix, token string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if len(keys) > 1 {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>", keys[0])
		keys = keys[:1]
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;%s&quot;</ETag><LastModified>2024-03-01T00:00:00Z</LastModified></Contents>",
			k, len(f.objects[k].body), etagOf(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return response(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func TestS3Store(t *testing.T) {
	s := newFakeS3Store(t)
	assert.Equal(t, DriverS3, s.Driver())
	testStoreContract(t, s)
}

func TestS3StoreMetadataAndETag(t *testing.T) {
	s := newFakeS3Store(t)
	ctx := context.Background()
	body := []byte(`<library id="b"></library>`)

	info, err := s.Put(ctx, "b/snap.xml", bytes.NewReader(body), PutOptions{
		ContentType: snapshotContentType,
		Metadata:    map[string]string{"digest": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, etagOf(body), info.ETag, "quotes are stripped")

	head, err := s.Head(ctx, "b/snap.xml")
	require.NoError(t, err)
	assert.Equal(t, "abc", head.Metadata["digest"])
	assert.Equal(t, snapshotContentType, head.ContentType)
	assert.EqualValues(t, len(body), head.Size)
}

func TestSnapshotsOnS3(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshots(newFakeS3Store(t))
	for n := range 3 {
		snaps.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, n, 0, time.UTC) }
		_, err := snaps.Archive(ctx, "a", []byte(fmt.Sprintf(`<library id="a"><!-- %d --></library>`, n)))
		require.NoError(t, err)
	}
	list, err := snaps.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, strings.HasPrefix(list[0].Key, "a/20240301T090000Z-"))

	deleted, err := snaps.Prune(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	list, err = snaps.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, strings.HasPrefix(list[0].Key, "a/20240301T090002Z-"))
}
