package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kazoku/internal/api"
	"kazoku/internal/filestore"
	"kazoku/internal/models"
	"kazoku/internal/relay"
	"kazoku/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type fixture struct {
	api   *httptest.Server
	admin *httptest.Server
	store *storage.BboltStorage
	hub   *relay.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewBboltStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	hub := relay.NewHub()
	handlers := api.New(store, files, hub)

	apiSrv := httptest.NewServer(NewAPIServer(handlers, relay.NewServer(hub), files, store, "").Handler())
	t.Cleanup(apiSrv.Close)
	adminSrv := httptest.NewServer(NewAdminServer(api.NewAdminHandler(handlers), "").Handler())
	t.Cleanup(adminSrv.Close)

	return &fixture{api: apiSrv, admin: adminSrv, store: store, hub: hub}
}

func (f *fixture) addProfile(t *testing.T, name string) string {
	t.Helper()
	resp, err := http.Post(f.admin.URL+"/admin/profiles", "application/json", strings.NewReader(`{"displayName":"`+name+`"}`))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.AddProfileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.Success)
	return out.ID
}

func (f *fixture) postMessage(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.api.URL+"/api/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.api.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestAPI_MessagesLifecycle(t *testing.T) {
	f := newFixture(t)
	alice := f.addProfile(t, "Alice")

	resp := f.postMessage(t, `{"authorId":"`+alice+`","content":"  hello <script>x</script> "}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "hello", created.Content)
	require.Equal(t, "Alice", created.Author.DisplayName)

	require.Equal(t, http.StatusBadRequest, f.postMessage(t, `{"authorId":"`+alice+`","content":"   "}`).StatusCode)
	require.Equal(t, http.StatusBadRequest, f.postMessage(t, `{"authorId":"ghost","content":"hi"}`).StatusCode)

	list, err := http.Get(f.api.URL + "/api/messages")
	require.NoError(t, err)
	defer func() { _ = list.Body.Close() }()
	var messages []models.Message
	require.NoError(t, json.NewDecoder(list.Body).Decode(&messages))
	require.Len(t, messages, 1)
	require.Equal(t, created.ID, messages[0].ID)

	req, _ := http.NewRequest(http.MethodDelete, f.api.URL+"/api/messages/"+created.ID, nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	require.Equal(t, http.StatusNoContent, del.StatusCode)

	del, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = del.Body.Close()
	require.Equal(t, http.StatusNotFound, del.StatusCode)
}

func TestAPI_Profiles(t *testing.T) {
	f := newFixture(t)

	missing, err := http.Get(f.api.URL + "/api/profiles/nobody")
	require.NoError(t, err)
	_ = missing.Body.Close()
	require.Equal(t, http.StatusNotFound, missing.StatusCode)

	put := func(body string) int {
		req, _ := http.NewRequest(http.MethodPut, f.api.URL+"/api/profiles/u1", strings.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, put(`{"displayName":"Alice"}`))
	require.Equal(t, http.StatusBadRequest, put(`{"displayName":""}`))
	require.Equal(t, http.StatusBadRequest, put(`{"displayName":"`+strings.Repeat("a", 21)+`"}`))

	p, err := f.store.GetProfile("u1")
	require.NoError(t, err)
	require.Equal(t, "Alice", p.DisplayName)
}

func TestAPI_UploadAndServe(t *testing.T) {
	f := newFixture(t)
	alice := f.addProfile(t, "Alice")

	png := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 512)...)
	resp, err := http.Post(f.api.URL+"/api/uploads?authorId="+alice, "application/octet-stream", bytes.NewReader(png))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var up api.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	require.Equal(t, models.AttachmentKindImage, up.Kind)
	require.Equal(t, int64(len(png)), up.Size)

	file, err := http.Get(f.api.URL + up.URL)
	require.NoError(t, err)
	defer func() { _ = file.Body.Close() }()
	require.Equal(t, "image/png", file.Header.Get("Content-Type"))
	data, _ := io.ReadAll(file.Body)
	require.Equal(t, png, data)

	pdf, err := http.Post(f.api.URL+"/api/uploads?authorId="+alice, "application/pdf", strings.NewReader("%PDF-1.4 not media"))
	require.NoError(t, err)
	_ = pdf.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, pdf.StatusCode)

	msg := f.postMessage(t, `{"authorId":"`+alice+`","attachment":{"url":"`+up.URL+`","kind":"image"}}`)
	require.Equal(t, http.StatusCreated, msg.StatusCode)
}

func TestAPI_StreamReceivesChanges(t *testing.T) {
	f := newFixture(t)
	alice := f.addProfile(t, "Alice")
	conn := f.dial(t, "/api/stream")

	// The subscription is registered asynchronously after the upgrade.
	require.Eventually(t, func() bool { return f.hub.StreamSubscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.postMessage(t, `{"authorId":"`+alice+`","content":"ping"}`)

	var ev models.ChangeEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))

	require.Equal(t, models.ChangeKindInsert, ev.Kind)
	require.Equal(t, alice, ev.Row.AuthorID)
	require.Equal(t, "ping", ev.Row.Content)
}

func TestAPI_Presence(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/api/presence?key=u1")

	var ev models.PresenceEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, models.PresenceEventReady, ev.Kind)
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, models.PresenceEventSync, ev.Kind)

	require.NoError(t, conn.WriteJSON(models.PresenceFrame{
		Kind:   models.PresenceFrameTrack,
		Record: json.RawMessage(`{"userId":"u1","username":"Alice","isTyping":false}`),
	}))
	ev = models.PresenceEvent{}
	require.NoError(t, conn.ReadJSON(&ev))
	require.Len(t, ev.State["u1"], 1)

	other := f.dial(t, "/api/presence?key=u2")
	require.NoError(t, other.ReadJSON(&ev))
	ev = models.PresenceEvent{}
	require.NoError(t, other.ReadJSON(&ev))
	require.Len(t, ev.State["u1"], 1)

	_ = conn.Close()
	ev = models.PresenceEvent{}
	require.NoError(t, other.ReadJSON(&ev))
	require.Empty(t, ev.State)

	noKey, err := http.Get(f.api.URL + "/api/presence")
	require.NoError(t, err)
	_ = noKey.Body.Close()
	require.Equal(t, http.StatusBadRequest, noKey.StatusCode)
}

func TestAPI_Transcript(t *testing.T) {
	f := newFixture(t)
	alice := f.addProfile(t, "Alice")
	f.postMessage(t, `{"authorId":"`+alice+`","content":"**bold** move"}`)

	resp, err := http.Get(f.api.URL + "/transcript")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "<strong>bold</strong>")
	require.Contains(t, string(body), "Alice")
}

func TestAPI_Metrics(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.api.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "kazoku_")
}
