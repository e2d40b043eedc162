package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"tunevault/cache"
	"tunevault/config"
	"tunevault/core/auth"
	"tunevault/core/events"
	"tunevault/core/ingest"
	"tunevault/core/playback"
	"tunevault/model"
	"tunevault/repository"
	"tunevault/storage/storagetest"

	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == user.Username {
			return repository.ErrDuplicate
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.users, id)
	return nil
}

type fakeTracks struct {
	mu        sync.Mutex
	tracks    map[string]*model.Track
	lastQuery repository.ListQuery
}

var _ repository.TrackRepository = (*fakeTracks)(nil)

func (f *fakeTracks) add(t model.Track) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks[t.ID] = &t
}

func (f *fakeTracks) CreateTrack(_ context.Context, t *model.Track) error {
	f.add(*t)
	return nil
}

func (f *fakeTracks) GetTrackByID(_ context.Context, id string) (*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tracks[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeTracks) ListTracksByOwner(_ context.Context, ownerID string, q repository.ListQuery) ([]*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	var out []*model.Track
	for _, t := range f.tracks {
		if t.OwnerID == ownerID && strings.Contains(strings.ToLower(t.OriginalName), strings.ToLower(q.Search)) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTracks) OwnerOf(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tracks[id]; ok {
		return t.OwnerID, nil
	}
	return "", repository.ErrNotFound
}

func (f *fakeTracks) DeleteTrack(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tracks[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.tracks, id)
	return nil
}

type fakeCovers struct {
	mu     sync.Mutex
	covers map[string]*model.Cover
}

var _ repository.CoverRepository = (*fakeCovers)(nil)

func (f *fakeCovers) CreateCover(_ context.Context, c *model.Cover) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.covers[c.ID] = &cp
	return nil
}

func (f *fakeCovers) DeleteCover(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.covers[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.covers, id)
	return nil
}

func (f *fakeCovers) GetCoverByID(_ context.Context, id string) (*model.Cover, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.covers[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

// uploadedFile is what the fake ingester saw of one upload.
type uploadedFile struct {
	Name string
	Data string
}

type fakeIngester struct {
	mu        sync.Mutex
	principal model.Principal
	targetDir string
	files     []uploadedFile

	stored []model.Track
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request) ([]model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principal = req.Principal
	f.targetDir = req.TargetDir
	for _, up := range req.Uploads {
		data, err := io.ReadAll(io.NewSectionReader(up.Src, 0, up.Size))
		if err != nil {
			return nil, err
		}
		f.files = append(f.files, uploadedFile{Name: up.Name, Data: string(data)})
	}
	return f.stored, f.err
}

const (
	testJWTSecret      = "access-secret"
	testPlaybackSecret = "playback-secret"
	testBaseURL        = "https://media.test"
)

type fixture struct {
	router   http.Handler
	store    *storagetest.MemStore
	users    *fakeUsers
	tracks   *fakeTracks
	covers   *fakeCovers
	ingester *fakeIngester
	tokens   *auth.TokenManager
	issuer   *playback.Issuer
	hub      *events.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, storagetest.NewMemStore(), func(*config.Config) {})
}

func newFixtureWith(t *testing.T, store *storagetest.MemStore, tweak func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		MaxUploadSize:        1 << 20,
		MaxConcurrentUploads: 2,
		LoginRateLimit:       100,
		PublicBaseURL:        testBaseURL,
	}
	tweak(cfg)

	f := &fixture{
		store:    store,
		users:    &fakeUsers{users: make(map[string]*model.User)},
		tracks:   &fakeTracks{tracks: make(map[string]*model.Track)},
		covers:   &fakeCovers{covers: make(map[string]*model.Cover)},
		ingester: &fakeIngester{},
		tokens:   auth.NewTokenManager(testJWTSecret, time.Hour),
		issuer:   playback.NewIssuer(testPlaybackSecret, 5*time.Minute, testBaseURL),
		hub:      events.NewHub(8),
	}
	h := NewAPIHandler(Deps{
		Config:   cfg,
		Users:    f.users,
		Tracks:   f.tracks,
		Covers:   f.covers,
		Store:    store,
		Ingester: f.ingester,
		Tokens:   f.tokens,
		Issuer:   f.issuer,
		Verifier: playback.NewVerifier(testPlaybackSecret),
		Owners:   cache.NewOwnerCache(nil, f.tracks, time.Minute),
		Hub:      f.hub,
	})
	f.router = NewRouter(h)
	return f
}

func (f *fixture) token(t *testing.T, p model.Principal) string {
	t.Helper()
	tok, err := f.tokens.GenerateToken(p)
	require.NoError(t, err)
	return tok
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// authed builds a request carrying p's access token.
func (f *fixture) authed(t *testing.T, p model.Principal, method, target string, body io.Reader) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+f.token(t, p))
	return req
}

func (f *fixture) put(t *testing.T, key, data string) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), key, strings.NewReader(data), int64(len(data)), ""))
}
