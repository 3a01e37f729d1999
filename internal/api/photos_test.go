package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/photo-porter/internal/photos"
	"github.com/vipul43/photo-porter/internal/service"
)

func TestPhotosBrowsing(t *testing.T) {
	env := setupTestServer(t)
	env.seedFresh(t, "a@x.com")
	env.photos.albums = []photos.Album{{ID: "al1", Title: "Holidays"}}
	name := "beach.jpg"
	env.photos.items["al1"] = []photos.MediaItem{{ID: "m1", Filename: &name}}

	w := env.do(t, http.MethodGet, "/photos/albums?email=a@x.com", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var albums struct {
		Albums []photos.Album `json:"albums"`
	}
	decode(t, w, &albums)
	require.Len(t, albums.Albums, 1)
	assert.Equal(t, "Holidays", albums.Albums[0].Title)

	w = env.do(t, http.MethodGet, "/photos/albums/al1?email=a@x.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var album photos.Album
	decode(t, w, &album)
	assert.Equal(t, "al1", album.ID)

	w = env.do(t, http.MethodGet, "/photos/albums/al1/items?email=a@x.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items struct {
		MediaItems []photos.MediaItem `json:"mediaItems"`
	}
	decode(t, w, &items)
	require.Len(t, items.MediaItems, 1)
	assert.Equal(t, "beach.jpg", items.MediaItems[0].FileName())
}

func TestPhotosBrowsing_Errors(t *testing.T) {
	env := setupTestServer(t)
	env.seedFresh(t, "a@x.com")

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/photos/albums", http.StatusBadRequest},
		{"/photos/albums?email=ghost@x.com", http.StatusNotFound},
		{"/photos/albums/missing?email=a@x.com", http.StatusNotFound},
		{"/photos/albums/missing/items?email=a@x.com", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
}

func TestTransferAlbum(t *testing.T) {
	env := setupTestServer(t)
	env.seedFresh(t, "a@x.com")
	env.seedFresh(t, "b@x.com")
	env.photos.items["al1"] = []photos.MediaItem{{ID: "m1"}, {ID: "m2"}}

	w := env.do(t, http.MethodPost, "/photos/albums/al1/transfer", AlbumTransferRequest{
		SourceEmail: "a@x.com", TargetEmail: "b@x.com",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var body struct {
		AlbumID     string `json:"albumId"`
		QueuedCount int    `json:"queuedCount"`
		Status      string `json:"status"`
	}
	decode(t, w, &body)
	assert.Equal(t, "al1", body.AlbumID)
	assert.Equal(t, 2, body.QueuedCount)
	assert.Equal(t, "QUEUED", body.Status)

	pending, err := env.queue.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	w = env.do(t, http.MethodPost, "/photos/albums/al1/transfer", AlbumTransferRequest{
		SourceEmail: "a@x.com", TargetEmail: "ghost@x.com",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthLoginAndCallback(t *testing.T) {
	env := setupTestServer(t)
	env.photos.exchange = func(ctx context.Context, code string) (*photos.IssuedCredential, error) {
		assert.Equal(t, "auth-code", code)
		return &photos.IssuedCredential{
			Email: "new@x.com", AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", ExpiresIn: 3600,
		}, nil
	}

	w := env.do(t, http.MethodGet, "/auth/login", nil)
	require.Equal(t, http.StatusFound, w.Code)

	var state *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == stateCookie {
			state = c
		}
	}
	require.NotNil(t, state)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, "https://accounts.example/consent?state="+state.Value, w.Header().Get("Location"))

	// wrong state is rejected before any exchange
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code&state=forged", nil)
	req.AddCookie(state)
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/auth/callback?code=auth-code&state="+state.Value, nil)
	req.AddCookie(state)
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "new@x.com")

	w = env.do(t, http.MethodGet, "/auth/status?email=new@x.com", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status service.AuthStatus
	decode(t, w, &status)
	assert.True(t, status.Authenticated)
	assert.True(t, status.TokenValid)
	assert.NotEmpty(t, status.AccountID)
}

func TestAuthCallback_MissingCookieOrDenied(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, http.MethodGet, "/auth/callback?code=c&state=s", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/auth/callback?error=access_denied", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "access_denied"))
}

func TestAuthStatus_NeverErrors(t *testing.T) {
	env := setupTestServer(t)
	env.seedStale(t, "old@x.com")

	for _, email := range []string{"", "ghost@x.com", "old@x.com"} {
		w := env.do(t, http.MethodGet, "/auth/status?email="+email, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var status service.AuthStatus
		decode(t, w, &status)
		assert.False(t, status.TokenValid, email)
	}
}
