package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"tunevault/config"
	"tunevault/core/auth"
	"tunevault/core/events"
	"tunevault/core/ingest"
	"tunevault/core/playback"
	"tunevault/model"
	"tunevault/storage/storagetest"

	"github.com/gorilla/websocket"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = model.Principal{ID: "u1", Username: "alice"}
	bob   = model.Principal{ID: "u2", Username: "bob"}
)

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestRegisterLoginAndMe(t *testing.T) {
	f := newFixture(t)

	rec := f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/register",
		jsonBody(t, credentials{Username: "alice", Password: "hunter2"})))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	assert.Equal(t, "alice", reg.User.Username)
	assert.NotEmpty(t, reg.User.ID)

	rec = f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/register",
		jsonBody(t, credentials{Username: "alice", Password: "other"})))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, credentials{Username: "alice", Password: "wrong"})))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, credentials{Username: "nobody", Password: "x"})))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, credentials{Username: "alice", Password: "hunter2"})))
	require.Equal(t, http.StatusOK, rec.Code)
	var login authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec = f.serve(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var me model.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, reg.User, me)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.serve(httptest.NewRequest(http.MethodPost, "/api/auth/register",
		jsonBody(t, credentials{Username: "  ", Password: "x"})))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/tracks", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, http.StatusUnauthorized, f.serve(req).Code)
		})
	}

	other := auth.NewTokenManager("another-secret", time.Hour)
	tok, err := other.GenerateToken(alice)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/tracks", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusUnauthorized, f.serve(req).Code)
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixtureWith(t, storagetest.NewMemStore(), func(c *config.Config) { c.LoginRateLimit = 2 })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{}"))
		req.RemoteAddr = "192.0.2.7:4000"
		codes = append(codes, f.serve(req).Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
}

func TestDeleteMeRemovesBlobs(t *testing.T) {
	f := newFixture(t)
	f.users.users["u1"] = &model.User{ID: "u1", Username: "alice"}
	f.put(t, "u1/t1.mp3", "a")
	f.put(t, "u1/streams/t1/playlist.m3u8", "m")
	f.put(t, "u2/t9.mp3", "b")

	rec := f.serve(f.authed(t, alice, http.MethodDelete, "/api/auth/me", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u2/t9.mp3"}, f.store.Keys())
	assert.Empty(t, f.users.users)

	rec = f.serve(f.authed(t, alice, http.MethodDelete, "/api/auth/me", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartUpload(t *testing.T, dir string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if dir != "" {
		require.NoError(t, mw.WriteField("path", dir))
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadPassesNormalizedFiles(t *testing.T) {
	f := newFixture(t)
	f.ingester.stored = []model.Track{{ID: "t1", OwnerID: "u1", OriginalName: "Live/café.mp3"}}

	body, ctype := multipartUpload(t, "Live", map[string]string{"cafÃ©.mp3": "ID3-bytes"})
	req := f.authed(t, alice, http.MethodPost, "/api/tracks/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := f.serve(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stored []model.Track
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "t1", stored[0].ID)

	assert.Equal(t, alice, f.ingester.principal)
	assert.Equal(t, "Live", f.ingester.targetDir)
	assert.Equal(t, []uploadedFile{{Name: "café.mp3", Data: "ID3-bytes"}}, f.ingester.files)
}

func TestUploadEmptyResultIsList(t *testing.T) {
	f := newFixture(t)

	body, ctype := multipartUpload(t, "", map[string]string{"notes.txt": "hello"})
	req := f.authed(t, alice, http.MethodPost, "/api/tracks/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := f.serve(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)

	body, ctype := multipartUpload(t, "", map[string]string{"a.mp3": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/tracks/upload", body)
	req.Header.Set("Content-Type", ctype)
	assert.Equal(t, http.StatusUnauthorized, f.serve(req).Code)

	body, ctype = multipartUpload(t, "", nil)
	req = f.authed(t, alice, http.MethodPost, "/api/tracks/upload", body)
	req.Header.Set("Content-Type", ctype)
	assert.Equal(t, http.StatusBadRequest, f.serve(req).Code)

	req = f.authed(t, alice, http.MethodPost, "/api/tracks/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, f.serve(req).Code)
}

func TestUploadStoreFailureReportsStoredAndCode(t *testing.T) {
	f := newFixture(t)
	f.ingester.stored = []model.Track{{ID: "t1", OwnerID: "u1", OriginalName: "a.mp3"}}
	f.ingester.err = &ingest.StoreError{
		Stage: ingest.StageBlob,
		Key:   "u1/t2.mp3",
		Err:   minio.ErrorResponse{Code: "SlowDown", Message: "Please reduce your request rate."},
	}

	body, ctype := multipartUpload(t, "", map[string]string{"a.mp3": "x", "b.mp3": "y"})
	req := f.authed(t, alice, http.MethodPost, "/api/tracks/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := f.serve(req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var got storeErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "blob", got.Stage)
	assert.Equal(t, "SlowDown", got.Code)
	assert.Equal(t, "Please reduce your request rate.", got.Message)
	require.Len(t, got.Tracks, 1)
	assert.Equal(t, "t1", got.Tracks[0].ID)
}

func TestUploadTooLarge(t *testing.T) {
	f := newFixtureWith(t, storagetest.NewMemStore(), func(c *config.Config) { c.MaxUploadSize = 64 })

	body, ctype := multipartUpload(t, "", map[string]string{"a.mp3": strings.Repeat("x", 4096)})
	req := f.authed(t, alice, http.MethodPost, "/api/tracks/upload", body)
	req.Header.Set("Content-Type", ctype)
	rec := f.serve(req)
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
	assert.Empty(t, f.ingester.files)
}

func TestListTracks(t *testing.T) {
	f := newFixture(t)
	f.tracks.add(model.Track{ID: "t1", OwnerID: "u1", OriginalName: "Album/One.mp3"})
	f.tracks.add(model.Track{ID: "t2", OwnerID: "u1", OriginalName: "Other/Two.flac"})
	f.tracks.add(model.Track{ID: "t3", OwnerID: "u2", OriginalName: "Album/Three.mp3"})

	rec := f.serve(f.authed(t, alice, http.MethodGet, "/api/tracks?search=album&skip=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page trackPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Tracks, 1)
	assert.Equal(t, "t1", page.Tracks[0].ID)
	assert.Equal(t, 50, page.Limit)
	assert.Equal(t, "album", f.tracks.lastQuery.Search)

	rec = f.serve(f.authed(t, bob, http.MethodGet, "/api/tracks?limit=1000&search=nothing", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Tracks)
	assert.NotNil(t, page.Tracks)
	assert.Equal(t, 200, page.Limit)
}

func seedContent(t *testing.T, f *fixture) {
	t.Helper()
	f.tracks.add(model.Track{ID: "t1", OwnerID: "u1", BlobKey: "u1/t1.mp3", SizeBytes: 10, MimeType: "audio/mpeg"})
	f.put(t, "u1/t1.mp3", "0123456789")
}

func TestTrackContent(t *testing.T) {
	f := newFixture(t)
	seedContent(t, f)

	cases := []struct {
		name         string
		rangeHeader  string
		status       int
		body         string
		contentRange string
	}{
		{"full", "", http.StatusOK, "0123456789", ""},
		{"partial", "bytes=2-5", http.StatusPartialContent, "2345", "bytes 2-5/10"},
		{"open end", "bytes=7-", http.StatusPartialContent, "789", "bytes 7-9/10"},
		{"end clamped", "bytes=8-400", http.StatusPartialContent, "89", "bytes 8-9/10"},
		{"first range only", "bytes=0-1,4-5", http.StatusPartialContent, "01", "bytes 0-1/10"},
		{"unsatisfiable", "bytes=20-30", http.StatusOK, "0123456789", ""},
		{"inverted", "bytes=6-2", http.StatusOK, "0123456789", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.authed(t, alice, http.MethodGet, "/api/tracks/t1/content", nil)
			if tc.rangeHeader != "" {
				req.Header.Set("Range", tc.rangeHeader)
			}
			rec := f.serve(req)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.body, rec.Body.String())
			assert.Equal(t, tc.contentRange, rec.Header().Get("Content-Range"))
			assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
			assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
			assert.Equal(t, strconv.Itoa(len(tc.body)), rec.Header().Get("Content-Length"))
		})
	}
}

func TestTrackContentAccess(t *testing.T) {
	f := newFixture(t)
	seedContent(t, f)
	f.tracks.add(model.Track{ID: "t2", OwnerID: "u1", BlobKey: "u1/t2.mp3", SizeBytes: 3})

	assert.Equal(t, http.StatusForbidden, f.serve(f.authed(t, bob, http.MethodGet, "/api/tracks/t1/content", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.serve(f.authed(t, alice, http.MethodGet, "/api/tracks/missing/content", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.serve(f.authed(t, alice, http.MethodGet, "/api/tracks/t2/content", nil)).Code)
}

func TestTrackContentStoreError(t *testing.T) {
	store := storagetest.NewMemStore()
	f := newFixtureWith(t, store, func(*config.Config) {})
	seedContent(t, f)
	store.FailGet = func(string) error {
		return minio.ErrorResponse{Code: "InternalError", Message: "We encountered an internal error."}
	}

	rec := f.serve(f.authed(t, alice, http.MethodGet, "/api/tracks/t1/content", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var got storeErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "InternalError", got.Code)
}

func TestDeleteTrack(t *testing.T) {
	f := newFixture(t)
	f.tracks.add(model.Track{ID: "t1", OwnerID: "u1", BlobKey: "u1/t1.mp3", StreamPrefix: "u1/streams/t1/"})
	f.put(t, "u1/t1.mp3", "a")
	f.put(t, "u1/streams/t1/playlist.m3u8", "m")
	f.put(t, "u1/streams/t1/segment_000.ts", "s")
	f.put(t, "u1/t5.mp3", "keep")

	assert.Equal(t, http.StatusForbidden, f.serve(f.authed(t, bob, http.MethodDelete, "/api/tracks/t1", nil)).Code)
	assert.Len(t, f.store.Keys(), 4)

	rec := f.serve(f.authed(t, alice, http.MethodDelete, "/api/tracks/t1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"u1/t5.mp3"}, f.store.Keys())
	_, err := f.tracks.GetTrackByID(t.Context(), "t1")
	assert.Error(t, err)

	assert.Equal(t, http.StatusNotFound, f.serve(f.authed(t, alice, http.MethodDelete, "/api/tracks/t1", nil)).Code)
}

func TestDeleteTrackSurvivesBlobFailure(t *testing.T) {
	store := storagetest.NewMemStore()
	f := newFixtureWith(t, store, func(*config.Config) {})
	f.tracks.add(model.Track{ID: "t1", OwnerID: "u1", BlobKey: "u1/t1.mp3"})
	f.put(t, "u1/t1.mp3", "a")
	store.FailRemove = func(string) error { return errors.New("store down") }

	rec := f.serve(f.authed(t, alice, http.MethodDelete, "/api/tracks/t1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := f.tracks.GetTrackByID(t.Context(), "t1")
	assert.Error(t, err)
}

func TestCover(t *testing.T) {
	f := newFixture(t)
	f.covers.covers["c1"] = &model.Cover{ID: "c1", OwnerID: "u1", BlobKey: "u1/covers/c1.png", MimeType: "image/png"}
	f.put(t, "u1/covers/c1.png", "PNGDATA")

	rec := f.serve(f.authed(t, alice, http.MethodGet, "/api/covers/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "PNGDATA", rec.Body.String())

	assert.Equal(t, http.StatusForbidden, f.serve(f.authed(t, bob, http.MethodGet, "/api/covers/c1", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.serve(f.authed(t, alice, http.MethodGet, "/api/covers/c9", nil)).Code)
}

func TestPlaybackURL(t *testing.T) {
	f := newFixture(t)
	f.tracks.add(model.Track{ID: "t1", OwnerID: "u1", StreamPrefix: "u1/streams/t1/"})
	f.tracks.add(model.Track{ID: "t2", OwnerID: "u1"})

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/api/tracks/t1/playback-url", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp playbackURLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.URL, testBaseURL+"/stream/t1/playlist.m3u8?token="), resp.URL)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), resp.ExpiresAt, time.Minute)

	u, err := url.Parse(resp.URL)
	require.NoError(t, err)
	require.NoError(t, playback.NewVerifier(testPlaybackSecret).Verify(u.Query().Get("token"), "t1"))

	assert.Equal(t, http.StatusConflict, f.serve(httptest.NewRequest(http.MethodGet, "/api/tracks/t2/playback-url", nil)).Code)
	assert.Equal(t, http.StatusNotFound, f.serve(httptest.NewRequest(http.MethodGet, "/api/tracks/t9/playback-url", nil)).Code)
}

func TestVerifyPlayback(t *testing.T) {
	f := newFixture(t)
	f.tracks.add(model.Track{ID: "t1", OwnerID: "u1", StreamPrefix: "u1/streams/t1/"})
	f.tracks.add(model.Track{ID: "t2", OwnerID: "u2", StreamPrefix: "u2/streams/t2/"})

	tok1, _, err := f.issuer.Issue("t1")
	require.NoError(t, err)
	tokGone, _, err := f.issuer.Issue("t404")
	require.NoError(t, err)
	expiredIssuer := playback.NewIssuer(testPlaybackSecret, time.Minute, testBaseURL,
		playback.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	tokExpired, _, err := expiredIssuer.Issue("t1")
	require.NoError(t, err)
	forged, _, err := playback.NewIssuer("wrong-secret", time.Minute, testBaseURL).Issue("t1")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		query  string
		status int
		owner  string
	}{
		{"valid manifest", "/stream/t1/playlist.m3u8?token=" + tok1, "", http.StatusOK, "u1"},
		{"valid segment", "/stream/t1/segment_003.ts?token=" + tok1, "", http.StatusOK, "u1"},
		{"uri from query", "", "/stream/t1/segment_000.ts?token=" + tok1, http.StatusOK, "u1"},
		{"no uri", "", "", http.StatusBadRequest, ""},
		{"not a stream path", "/api/tracks?token=" + tok1, "", http.StatusBadRequest, ""},
		{"missing token", "/stream/t1/playlist.m3u8", "", http.StatusUnauthorized, ""},
		{"other track", "/stream/t2/playlist.m3u8?token=" + tok1, "", http.StatusForbidden, ""},
		{"expired", "/stream/t1/playlist.m3u8?token=" + tokExpired, "", http.StatusForbidden, ""},
		{"forged", "/stream/t1/playlist.m3u8?token=" + forged, "", http.StatusForbidden, ""},
		{"track gone", "/stream/t404/playlist.m3u8?token=" + tokGone, "", http.StatusForbidden, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/internal/playback/verify"
			if tc.query != "" {
				target += "?uri=" + url.QueryEscape(tc.query)
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set(OriginalURIHeader, tc.header)
			}
			rec := f.serve(req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.owner, rec.Header().Get(PrincipalHeader))
		})
	}
}

func TestStreamFile(t *testing.T) {
	f := newFixture(t)
	f.tracks.add(model.Track{ID: "t1", OwnerID: "u1", StreamPrefix: "u1/streams/t1/"})
	f.put(t, "u1/streams/t1/playlist.m3u8", "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nsegment_000.ts\n#EXT-X-ENDLIST\n")
	f.put(t, "u1/streams/t1/segment_000.ts", "TSDATA")

	tok, _, err := f.issuer.Issue("t1")
	require.NoError(t, err)

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/stream/t1/playlist.m3u8?token="+tok, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "\nsegment_000.ts?token="+tok+"\n")
	assert.Contains(t, rec.Body.String(), "#EXT-X-ENDLIST")

	rec = f.serve(httptest.NewRequest(http.MethodGet, "/stream/t1/segment_000.ts?token="+tok, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "TSDATA", rec.Body.String())

	assert.Equal(t, http.StatusNotFound,
		f.serve(httptest.NewRequest(http.MethodGet, "/stream/t1/segment_009.ts?token="+tok, nil)).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.serve(httptest.NewRequest(http.MethodGet, "/stream/t1/segment_000.ts", nil)).Code)

	other, _, err := f.issuer.Issue("t2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden,
		f.serve(httptest.NewRequest(http.MethodGet, "/stream/t1/segment_000.ts?token="+other, nil)).Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/tracks/t1/content", nil)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := f.serve(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")

	rec = f.serve(f.authed(t, alice, http.MethodGet, "/api/tracks", nil))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "Content-Range")
}

func TestIngestEventsFeed(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ingest/events?access_token=" + f.token(t, alice)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Subscribers("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Publish("u2", events.Event{Kind: events.Stored, TrackID: "not-mine"})
	f.hub.Publish("u1", events.Event{Kind: events.Stored, Name: "a.mp3", TrackID: "t1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.Stored, ev.Kind)
	assert.Equal(t, "t1", ev.TrackID)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return f.hub.Subscribers("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestIngestEventsRequiresAuth(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ingest/events", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
