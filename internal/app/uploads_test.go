package app

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flux/api/internal/blob"
)

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func (f *fakeUploader) Upload(_ context.Context, workspaceID, contentType string, body io.Reader, size int64) (blob.Object, error) {
	ext, err := blob.Extension(contentType)
	if err != nil {
		return blob.Object{}, err
	}
	if size > blob.MaxUploadBytes {
		return blob.Object{}, blob.ErrTooLarge
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return blob.Object{}, err
	}
	key := blob.ObjectKey(workspaceID, "fixed", ext)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = data
	return blob.Object{Key: key, URL: "https://cdn.flux.test/" + key, Size: int64(len(data)), ContentType: contentType}, nil
}

func (f *fakeUploader) RemoveWorkspace(_ context.Context, workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, workspaceID)
	return nil
}

func uploadRequest(t *testing.T, token, workspaceID, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if workspaceID != "" {
		require.NoError(t, writer.WriteField("workspaceId", workspaceID))
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="cover"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadImage(t *testing.T) {
	uploads := &fakeUploader{}
	env := newTestEnv(t, func(o *Options) { o.Uploads = uploads })
	ws := env.createWorkspace("owner", "Design")
	env.invite("owner", ws, "v", "viewer")

	rr := serve(env, uploadRequest(t, env.token("owner"), ws, "image/png", []byte("png-bytes")))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var payload struct {
		Upload blob.Object `json:"upload"`
	}
	decodeJSON(t, rr, &payload)
	assert.Equal(t, "workspaces/"+ws+"/fixed.png", payload.Upload.Key)
	assert.Equal(t, int64(len("png-bytes")), payload.Upload.Size)
	assert.Equal(t, []byte("png-bytes"), uploads.objects[payload.Upload.Key])

	rr = serve(env, uploadRequest(t, env.token("owner"), ws, "application/pdf", []byte("%PDF")))
	requireError(t, rr, http.StatusBadRequest, "Only PNG, JPEG, GIF and WebP images are accepted")

	rr = serve(env, uploadRequest(t, env.token("v"), ws, "image/png", []byte("png")))
	requireError(t, rr, http.StatusForbidden, "Viewers cannot upload files")

	rr = serve(env, uploadRequest(t, env.token("owner"), "", "image/png", []byte("png")))
	requireError(t, rr, http.StatusBadRequest, "Workspace ID required")

	rr = env.do(http.MethodDelete, "/api/workspaces?id="+ws, env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{ws}, uploads.removed)
}

func TestUploadsDisabled(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")

	rr := serve(env, uploadRequest(t, env.token("owner"), ws, "image/png", []byte("png")))
	requireError(t, rr, http.StatusServiceUnavailable, "Uploads are not configured")
}
