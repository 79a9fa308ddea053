package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dronedb/ddb-core/internal/delta"
	"github.com/dronedb/ddb-core/internal/hashutil"
	"github.com/dronedb/ddb-core/internal/index"
)

type fakeCreds struct{ username, password string }

func (f fakeCreds) Credentials(_ string) (string, string, error) {
	return f.username, f.password, nil
}

type memSyncState struct {
	stamps map[string]*index.Stamp
}

func newMemSyncState() *memSyncState {
	return &memSyncState{stamps: map[string]*index.Stamp{}}
}

func (m *memSyncState) LastKnownStamp(registryURL string) (*index.Stamp, bool, error) {
	s, ok := m.stamps[registryURL]

	return s, ok, nil
}

func (m *memSyncState) SaveStamp(registryURL string, stamp *index.Stamp) error {
	m.stamps[registryURL] = stamp

	return nil
}

func newTestDatabase(t *testing.T) (*index.Database, string) {
	t.Helper()

	dir := t.TempDir()
	ctx := context.Background()

	_, err := index.Init(ctx, dir, nil)
	require.NoError(t, err)

	db, err := index.Open(ctx, dir, false, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db, dir
}

func writeLogin(w http.ResponseWriter, token string, expiresIn time.Duration) {
	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	}{token, time.Now().Add(expiresIn).Unix()})
}

func TestLoginThenReusesTokenUntilExpiry(t *testing.T) {
	var logins int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/authenticate":
			atomic.AddInt32(&logins, 1)
			writeLogin(w, "tok-1", time.Hour)
		case "/orgs/acme/ds/survey/stamp":
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

			_ = json.NewEncoder(w).Encode(index.Stamp{Checksum: "c1"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeCreds{"u", "p"}, nil)
	tag := Tag{Org: "acme", Dataset: "survey"}

	_, err := c.FetchStamp(context.Background(), tag)
	require.NoError(t, err)

	_, err = c.FetchStamp(context.Background(), tag)
	require.NoError(t, err)

	require.EqualValues(t, 1, logins)
}

func TestDoJSONRetriesOnServerError(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/authenticate":
			writeLogin(w, "tok", time.Hour)
		case "/orgs/acme/ds/survey/stamp":
			n := atomic.AddInt32(&attempts, 1)
			if n < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)

				return
			}

			_ = json.NewEncoder(w).Encode(index.Stamp{Checksum: "ok"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeCreds{"u", "p"}, nil)

	stamp, err := c.FetchStamp(context.Background(), Tag{Org: "acme", Dataset: "survey"})
	require.NoError(t, err)
	require.Equal(t, "ok", stamp.Checksum)
	require.EqualValues(t, 3, attempts)
}

func TestPushInitMetaUploadCommit(t *testing.T) {
	db, root := newTestDatabase(t)
	ctx := context.Background()

	abs := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(abs, []byte("hello"), 0o644))
	require.NoError(t, db.Add(ctx, []string{abs}, index.AddOptions{}, nil))

	var (
		gotMeta     bool
		gotUpload   bool
		gotCommit   bool
		uploadToken string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users/authenticate":
			writeLogin(w, "tok", time.Hour)
		case r.URL.Path == "/orgs/acme/ds/survey/push/init":
			_ = json.NewEncoder(w).Encode(PushInitResponse{
				NeededFiles: []string{"a.txt"},
				NeededMeta:  nil,
				Token:       "pushtok",
			})
		case r.URL.Path == "/orgs/acme/ds/survey/push/meta":
			gotMeta = true

			w.Write([]byte("{}"))
		case r.URL.Path == "/orgs/acme/ds/survey/push/upload":
			gotUpload = true

			require.NoError(t, r.ParseMultipartForm(1<<20))
			uploadToken = r.FormValue("token")
			w.Write([]byte("{}"))
		case r.URL.Path == "/orgs/acme/ds/survey/push/commit":
			gotCommit = true

			w.Write([]byte("{}"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeCreds{"u", "p"}, nil)
	sync := newMemSyncState()

	err := c.Push(ctx, Tag{Org: "acme", Dataset: "survey"}, db, sync)
	require.NoError(t, err)

	require.True(t, gotMeta)
	require.True(t, gotUpload)
	require.True(t, gotCommit)
	require.Equal(t, "pushtok", uploadToken)

	_, found, err := sync.LastKnownStamp(srv.URL)
	require.NoError(t, err)
	require.True(t, found)
}

func TestPushReturnsPullRequiredWhenServerFlagsIt(t *testing.T) {
	db, _ := newTestDatabase(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/authenticate":
			writeLogin(w, "tok", time.Hour)
		case "/orgs/acme/ds/survey/push/init":
			_ = json.NewEncoder(w).Encode(PushInitResponse{PullRequired: true})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeCreds{"u", "p"}, nil)

	err := c.Push(ctx, Tag{Org: "acme", Dataset: "survey"}, db, newMemSyncState())
	require.Error(t, err)
}

func TestPullDownloadsOnlyMissingContentAndAppliesDelta(t *testing.T) {
	db, root := newTestDatabase(t)
	ctx := context.Background()

	existingAbs := filepath.Join(root, "existing.txt")
	require.NoError(t, os.WriteFile(existingAbs, []byte("shared"), 0o644))
	require.NoError(t, db.Add(ctx, []string{existingAbs}, index.AddOptions{}, nil))

	existingEntry, found, err := db.Entry(ctx, "existing.txt")
	require.NoError(t, err)
	require.True(t, found)

	remoteStamp := index.Stamp{
		Entries: []index.StampEntry{
			{Path: "existing.txt", Hash: existingEntry.Hash},
			{Path: "new.txt", Hash: "will-not-match-until-downloaded"},
		},
	}

	var downloadCount int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users/authenticate":
			writeLogin(w, "tok", time.Hour)
		case r.URL.Path == "/orgs/acme/ds/survey/stamp":
			_ = json.NewEncoder(w).Encode(remoteStamp)
		case r.URL.Path == "/orgs/acme/ds/survey/meta/dump":
			w.Write([]byte("[]"))
		case r.URL.Path == "/orgs/acme/ds/survey/download":
			atomic.AddInt32(&downloadCount, 1)
			w.Write([]byte("new-content"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeCreds{"u", "p"}, nil)
	sync := newMemSyncState()

	remoteStamp.Entries[1].Hash = hashutil.BytesSHA256([]byte("new-content"))

	result, err := c.Pull(ctx, Tag{Org: "acme", Dataset: "survey"}, db, sync, delta.DontMerge)
	require.NoError(t, err)
	require.Empty(t, result.Conflicts)
	require.EqualValues(t, 1, downloadCount, "existing.txt should be reused locally, not downloaded")

	_, found, err = db.Entry(ctx, "new.txt")
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = sync.LastKnownStamp(srv.URL)
	require.NoError(t, err)
	require.True(t, found)
}

func TestPullUpToDateWhenStampsMatch(t *testing.T) {
	db, _ := newTestDatabase(t)
	ctx := context.Background()

	stamp := index.Stamp{Checksum: "same"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/authenticate":
			writeLogin(w, "tok", time.Hour)
		case "/orgs/acme/ds/survey/stamp":
			_ = json.NewEncoder(w).Encode(stamp)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client(), fakeCreds{"u", "p"}, nil)
	sync := newMemSyncState()
	require.NoError(t, sync.SaveStamp(srv.URL, &stamp))

	result, err := c.Pull(ctx, Tag{Org: "acme", Dataset: "survey"}, db, sync, delta.DontMerge)
	require.NoError(t, err)
	require.True(t, result.UpToDate)
}
