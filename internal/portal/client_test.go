package portal

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestClient() *Client {
	c := NewClient(Options{RequestsPerSecond: 0, Burst: 10, BreakerFailures: 3, BreakerTimeout: time.Minute})
	c.SetClock(func() time.Time { return fixedNow })
	return c
}

func TestCreateSendsMultipartFormInOrder(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "cover.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("jpeg-bytes"), 0o600))

	var (
		names []string
		form  map[string]string
		file  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/create-news/", r.URL.Path)
		assert.Equal(t, "k-1", r.Header.Get("X-API-Key"))

		reader, err := r.MultipartReader()
		require.NoError(t, err)
		form = map[string]string{}
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			data, _ := io.ReadAll(part)
			if part.FileName() != "" {
				file = part.FormName() + ":" + part.FileName() + ":" + string(data)
				continue
			}
			names = append(names, part.FormName())
			form[part.FormName()] = string(data)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status": true, "data": {"id": 981}}`))
	}))
	defer srv.Close()

	counter := uint(4)
	res := newTestClient().Create(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL + "/", APIKey: "k-1"}, Article{
		CategoryExternalID: "12",
		Title:              "Title",
		ShortDescription:   "Short",
		Body:               "<p>Body</p>",
		MetaTitle:          "Meta",
		Slug:               "title",
		Tags:               "#latest",
		AuthorID:           "77",
		IsActive:           true,
		Trending:           true,
		Counter:            &counter,
		ImagePath:          imagePath,
	})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, "981", res.RemoteID)
	assert.Equal(t, []string{
		"post_cat", "post_title", "post_short_des", "post_des", "meta_title", "slug", "post_tag", "author",
		"Event_date", "Eventend_date", "schedule_date", "is_active", "Event", "Head_Lines", "articles",
		"trending", "BreakingNews", "post_status",
	}, names)
	assert.Equal(t, "2025-03-14", form["Event_date"])
	assert.Equal(t, "2025-03-14", form["Eventend_date"])
	assert.Equal(t, "2025-03-14T09:30:00Z", form["schedule_date"])
	assert.Equal(t, "1", form["is_active"])
	assert.Equal(t, "0", form["BreakingNews"])
	assert.Equal(t, "1", form["trending"])
	assert.Equal(t, "4", form["post_status"])
	assert.Equal(t, "post_image:cover.jpg:jpeg-bytes", file)
}

func TestCreateMissingImageIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Empty(t, r.MultipartForm.File)
		_, _ = w.Write([]byte(`{"status": true, "data": {"id": "a-1"}}`))
	}))
	defer srv.Close()

	res := newTestClient().Create(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, Article{ImagePath: "/nope/missing.png"})
	require.True(t, res.Success)
	assert.Equal(t, "a-1", res.RemoteID)
}

func TestCreateServerErrorKeepsBodyAsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Invalid category"))
	}))
	defer srv.Close()

	res := newTestClient().Create(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, Article{})
	assert.False(t, res.Success)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "Invalid category", res.Message)
	assert.Empty(t, res.RemoteID)

	var perr *Error
	require.True(t, errors.As(res.Err(), &perr))
	assert.Equal(t, 500, perr.StatusCode)
}

func TestCreateNonJSONSuccessHasNoRemoteID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("created"))
	}))
	defer srv.Close()

	res := newTestClient().Create(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, Article{})
	assert.True(t, res.Success)
	assert.Empty(t, res.RemoteID)
	assert.Equal(t, "created", res.Message)
}

func TestCreateFalseStatusHasNoRemoteID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": false, "data": {"id": 5}}`))
	}))
	defer srv.Close()

	res := newTestClient().Create(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, Article{})
	assert.True(t, res.Success)
	assert.Empty(t, res.RemoteID)
}

func TestUpdateOmitsCategoryAndAuthor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/update-news/42/", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, hasCat := r.MultipartForm.Value["post_cat"]
		_, hasAuthor := r.MultipartForm.Value["author"]
		assert.False(t, hasCat)
		assert.False(t, hasAuthor)
		assert.Equal(t, "New title", r.FormValue("post_title"))
		_, _ = w.Write([]byte(`{"status": true}`))
	}))
	defer srv.Close()

	res := newTestClient().Update(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, "42", Article{Title: "New title"})
	assert.True(t, res.Success)
}

func TestDeleteAcceptsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/delete-news/42/", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := newTestClient().Delete(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, "42")
	assert.True(t, res.Success)
}

func TestFetchReturnsData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/news/42/", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": true, "data": {"id": 42, "post_title": "Remote"}}`))
	}))
	defer srv.Close()

	res := newTestClient().Fetch(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, "42")
	require.True(t, res.Success)
	assert.Equal(t, "Remote", res.Data["post_title"])
}

func TestFetchWithoutDataFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": false, "message": "not found"}`))
	}))
	defer srv.Close()

	res := newTestClient().Fetch(context.Background(), Endpoint{Name: "alpha", BaseURL: srv.URL}, "42")
	assert.False(t, res.Success)
}

func TestCheckUsername(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("username") == "alice" {
			_, _ = w.Write([]byte(`{"status": true, "data": {"id": 17}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status": false}`))
	}))
	defer srv.Close()

	c := newTestClient()
	ep := Endpoint{Name: "alpha", BaseURL: srv.URL}

	found, res := c.CheckUsername(context.Background(), ep, "alice")
	require.True(t, res.Success)
	assert.True(t, found.Found)
	assert.Equal(t, "17", found.PortalUserID)

	missing, _ := c.CheckUsername(context.Background(), ep, "bob")
	assert.False(t, missing.Found)
}

func TestTransportErrorBecomesFailedResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	res := newTestClient().Create(context.Background(), Endpoint{Name: "alpha", BaseURL: base}, Article{})
	assert.False(t, res.Success)
	assert.Zero(t, res.StatusCode)
	assert.NotEmpty(t, res.Message)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient()
	ep := Endpoint{Name: "flaky", BaseURL: srv.URL}
	for i := 0; i < 3; i++ {
		c.Delete(context.Background(), ep, "1")
	}
	res := c.Delete(context.Background(), ep, "1")
	assert.False(t, res.Success)
	assert.True(t, strings.Contains(res.Message, "open"), res.Message)
	assert.Equal(t, 3, calls)
}

func TestExtractRemoteID(t *testing.T) {
	cases := map[string]string{
		`{"data": {"id": 12}}`:                   "12",
		`{"status": "true", "data": {"id": "x"}}`: "x",
		`{"status": 0, "data": {"id": 3}}`:       "",
		`[1, 2]`:                                 "",
		`not json`:                               "",
		`{"data": []}`:                           "",
	}
	for body, want := range cases {
		assert.Equal(t, want, ExtractRemoteID([]byte(body)), body)
	}
}
