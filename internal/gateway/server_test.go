package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"filegate/internal/gateway"
	"filegate/internal/keys"
	"filegate/internal/storage"

	"github.com/stretchr/testify/require"
)

const stamp = "1760870400123"

var startTime = time.UnixMilli(1760870400123)

// fakeStore wraps a MemoryStore and injects failures.
type fakeStore struct {
	*storage.MemoryStore

	headErr      error
	putErr       error
	getErr       error
	listErr      error
	midStreamErr error

	heads atomic.Int32
	puts  atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: storage.NewMemoryStore()}
}

func (f *fakeStore) HeadExists(ctx context.Context, key string) (bool, error) {
	f.heads.Add(1)
	if f.headErr != nil {
		return false, f.headErr
	}
	return f.MemoryStore.HeadExists(ctx, key)
}

func (f *fakeStore) PutStream(ctx context.Context, key string, body io.Reader, opts storage.PutOptions) error {
	f.puts.Add(1)
	if f.putErr != nil {
		_, _ = io.CopyN(io.Discard, body, 16)
		return f.putErr
	}
	return f.MemoryStore.PutStream(ctx, key, body, opts)
}

func (f *fakeStore) GetStream(ctx context.Context, key string) (*storage.Object, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}

	obj, err := f.MemoryStore.GetStream(ctx, key)
	if err != nil || f.midStreamErr == nil {
		return obj, err
	}

	obj.ReadCloser = struct {
		io.Reader
		io.Closer
	}{
		Reader: io.MultiReader(io.LimitReader(obj.ReadCloser, 4), errReader{f.midStreamErr}),
		Closer: obj.ReadCloser,
	}
	return obj, nil
}

func (f *fakeStore) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MemoryStore.List(ctx)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// NewTestServer creates a gateway Server over store with a fixed resolver
// stamp and returns it along with an httptest.Server wrapping its handler.
func NewTestServer(t *testing.T, store storage.ObjectStore, opts ...gateway.ConfigOption) (*gateway.Server, *httptest.Server) {
	t.Helper()

	opts = append([]gateway.ConfigOption{
		gateway.WithStore(store),
		gateway.WithResolver(keys.NewResolver(keys.WithStartTime(startTime))),
	}, opts...)

	srv, err := gateway.NewServer(gateway.NewConfig(opts...))
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return srv, httpSrv
}

// multipartBody builds a multipart/form-data body with a single file part.
func multipartBody(t *testing.T, field string, filename string, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	require.NoError(t, mw.WriteField("comment", "ignored"), "writing form field")

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	require.NoError(t, err, "creating file part")
	_, err = part.Write(content)
	require.NoError(t, err, "writing file part")
	require.NoError(t, mw.Close(), "closing multipart writer")

	return &buf, mw.FormDataContentType()
}

func DoRequest(t *testing.T, method string, url string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, url, body)
	require.NoError(t, err, "creating "+method+" request")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoErrorf(t, err, "%s %s error", method, url)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func DoUpload(t *testing.T, baseURL string, filename string, content []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, gateway.UploadFieldName, filename, "application/zip", content)
	return DoRequest(t, http.MethodPost, baseURL+"/", body, contentType)
}

func DoGet(t *testing.T, url string) *http.Response {
	t.Helper()
	return DoRequest(t, http.MethodGet, url, nil, "")
}

func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "reading response body")
	return string(data)
}

func ListKeys(t *testing.T, baseURL string) []string {
	t.Helper()

	resp := DoGet(t, baseURL+"/contents")
	require.Equal(t, http.StatusOK, resp.StatusCode, "GET /contents status")
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var entries []gateway.ObjectEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries), "decoding listing")

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Key)
	}
	return names
}

func TestHealthIgnoresStore(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.headErr = errors.New("store down")
	store.getErr = errors.New("store down")
	store.listErr = errors.New("store down")
	_, httpSrv := NewTestServer(t, store)

	resp := DoGet(t, httpSrv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", ReadBody(t, resp))
	require.NotEmpty(t, resp.Header.Get(gateway.RequestIDHeader), "request id header")
}

func TestUploadAndList(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, httpSrv := NewTestServer(t, store)

	resp := DoUpload(t, httpSrv.URL, "My Report!!.zip", []byte("PK\x03\x04 report"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Successfully uploaded my_report_.zip", ReadBody(t, resp))

	require.Equal(t, []string{"my_report_.zip"}, ListKeys(t, httpSrv.URL))
	require.Equal(t, map[string]string{"fieldName": gateway.UploadFieldName}, store.Metadata("my_report_.zip"))
}

func TestUploadTwiceRenames(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, newFakeStore())

	first := DoUpload(t, httpSrv.URL, "My Report!!.zip", []byte("first"))
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := DoUpload(t, httpSrv.URL, "My Report!!.zip", []byte("second"))
	require.Equal(t, http.StatusOK, second.StatusCode)

	renamed := "my_report__" + stamp + ".zip"
	msg := ReadBody(t, second)
	require.Contains(t, msg, "My Report!!.zip", "message names the original file")
	require.Contains(t, msg, renamed, "message names the renamed key")

	require.Equal(t, []string{"my_report_.zip", renamed}, ListKeys(t, httpSrv.URL))

	resp := DoGet(t, httpSrv.URL+"/get/my_report_.zip")
	require.Equal(t, "first", ReadBody(t, resp), "original object untouched")
	resp = DoGet(t, httpSrv.URL+"/get/"+renamed)
	require.Equal(t, "second", ReadBody(t, resp))
}

func TestUploadUnsupportedType(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, httpSrv := NewTestServer(t, store)

	resp := DoUpload(t, httpSrv.URL, "notes.txt", []byte("hello"))
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	require.Contains(t, ReadBody(t, resp), ".zip")

	require.Zero(t, store.heads.Load(), "store must not be probed")
	require.Zero(t, store.puts.Load(), "store must not be written")
	require.Empty(t, ListKeys(t, httpSrv.URL))
}

func TestUploadBadRequests(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, httpSrv := NewTestServer(t, store)

	t.Run("not multipart", func(t *testing.T) {
		resp := DoRequest(t, http.MethodPost, httpSrv.URL+"/", strings.NewReader("raw bytes"), "application/octet-stream")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong field", func(t *testing.T) {
		body, contentType := multipartBody(t, "attachment", "a.zip", "application/zip", []byte("x"))
		resp := DoRequest(t, http.MethodPost, httpSrv.URL+"/", body, contentType)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Contains(t, ReadBody(t, resp), gateway.UploadFieldName)
	})

	t.Run("empty base name", func(t *testing.T) {
		resp := DoUpload(t, httpSrv.URL, ".zip", []byte("x"))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	require.Zero(t, store.puts.Load())
}

func TestUploadStoreWriteFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.putErr = errors.New("503 SlowDown")
	_, httpSrv := NewTestServer(t, store)

	resp := DoUpload(t, httpSrv.URL, "big.zip", bytes.Repeat([]byte("a"), 1024))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotContains(t, ReadBody(t, resp), "big.zip", "failed upload must not report a key")
	require.Empty(t, ListKeys(t, httpSrv.URL))
}

func TestUploadProbeFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.headErr = errors.New("403 Forbidden")
	_, httpSrv := NewTestServer(t, store)

	resp := DoUpload(t, httpSrv.URL, "Photos.TAR", []byte("tarball"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Successfully uploaded photos.tar", ReadBody(t, resp))

	metrics := ReadBody(t, DoGet(t, httpSrv.URL+"/metrics"))
	require.Contains(t, metrics, "filegate_existence_probe_errors_total 1")
	require.Contains(t, metrics, `filegate_uploads_total{result="ok"} 1`)
}

func TestUploadTooLarge(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, httpSrv := NewTestServer(t, store, gateway.WithMaxUploadBytes(1024))

	resp := DoUpload(t, httpSrv.URL, "huge.zip", bytes.Repeat([]byte("z"), 4096))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	exists, err := store.MemoryStore.HeadExists(t.Context(), "huge.zip")
	require.NoError(t, err)
	require.False(t, exists, "oversized upload must not be stored")
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, newFakeStore())

	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	resp := DoUpload(t, httpSrv.URL, "Data Dump.zip", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = DoGet(t, httpSrv.URL+"/get/data_dump.zip")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	require.EqualValues(t, len(payload), resp.ContentLength)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, payload, got, "downloaded bytes must match the upload")
}

func TestDownloadNestedKeyIsTruncated(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, newFakeStore())

	resp := DoUpload(t, httpSrv.URL, "a.zip", []byte("alpha"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = DoGet(t, httpSrv.URL+"/get/a.zip/ignored/segments")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alpha", ReadBody(t, resp))
}

func TestDownloadNotFound(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	_, httpSrv := NewTestServer(t, store)

	for _, path := range []string{"/get/nonexistent.zip", "/get/"} {
		resp := DoGet(t, httpSrv.URL+path)
		require.Equalf(t, http.StatusNotFound, resp.StatusCode, "GET %s", path)
		require.Emptyf(t, ReadBody(t, resp), "GET %s body", path)
	}
}

func TestDownloadStoreErrorIsNotFound(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.getErr = errors.New("dial tcp: connection refused")
	_, httpSrv := NewTestServer(t, store)

	resp := DoGet(t, httpSrv.URL+"/get/anything.zip")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Empty(t, ReadBody(t, resp))
}

func TestDownloadMidStreamFailureAbortsConnection(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.midStreamErr = errors.New("connection reset by peer")
	err := store.MemoryStore.PutStream(t.Context(), "flaky.zip", bytes.NewReader(bytes.Repeat([]byte("f"), 1024)), storage.PutOptions{})
	require.NoError(t, err)

	_, httpSrv := NewTestServer(t, store)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, httpSrv.URL+"/get/flaky.zip", nil)
	require.NoError(t, err)

	// The abort may land before or after the headers are flushed. Either way
	// the client must not see a complete body.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = io.ReadAll(resp.Body)
	require.Error(t, err, "client must observe a truncated transfer")
}

func TestListingFailure(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.listErr = errors.New("AccessDenied")
	_, httpSrv := NewTestServer(t, store)

	resp := DoGet(t, httpSrv.URL+"/contents")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListingEmptyIsArray(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, newFakeStore())

	resp := DoGet(t, httpSrv.URL+"/contents")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, "[]", ReadBody(t, resp))
}

func TestConcurrentSameNameUploads(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, newFakeStore())

	const uploads = 8
	var wg sync.WaitGroup
	statuses := make([]int, uploads)

	requests := make([]*http.Request, uploads)
	for i := range uploads {
		body, contentType := multipartBody(t, gateway.UploadFieldName, "Same Name.zip", "application/zip", []byte(fmt.Sprintf("upload %d", i)))
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, httpSrv.URL+"/", body)
		require.NoError(t, err)
		req.Header.Set("Content-Type", contentType)
		requests[i] = req
	}

	for i, req := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	for i, status := range statuses {
		require.Equalf(t, http.StatusOK, status, "upload %d", i)
	}

	// The existence check races, so only the set of keys is deterministic.
	names := ListKeys(t, httpSrv.URL)
	require.Contains(t, names, "same_name.zip")
	for _, name := range names {
		require.Contains(t, []string{"same_name.zip", "same_name_" + stamp + ".zip"}, name)
	}
}

func TestUploadForm(t *testing.T) {
	t.Parallel()

	_, httpSrv := NewTestServer(t, newFakeStore())

	resp := DoGet(t, httpSrv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := ReadBody(t, resp)
	require.Contains(t, page, `enctype="multipart/form-data"`)
	require.Contains(t, page, `name="`+gateway.UploadFieldName+`"`)
	require.Contains(t, page, ".tar, .zip")
}

func TestParseDownloadKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "/get/report.zip", want: "report.zip"},
		{path: "/get/dir/report.zip", want: "dir"},
		{path: "/get/", want: ""},
		{path: "/contents", want: ""},
		{path: "/get", want: ""},
	}

	for _, tc := range tests {
		require.Equalf(t, tc.want, gateway.ParseDownloadKey(tc.path), "ParseDownloadKey(%q)", tc.path)
	}
}
