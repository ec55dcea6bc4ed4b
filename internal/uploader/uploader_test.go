package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repub-dev/repub/internal/config"
)

const testJar = `# Netscape HTTP Cookie File
.acfun.cn	TRUE	/	TRUE	4102444800	acPasstoken	tok-123
.acfun.cn	TRUE	/	FALSE	4102444800	auth_key	99887
`

func writeJar(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ac_cookies.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// uploadServer fakes the member and upload hosts on one listener.
type uploadServer struct {
	t  *testing.T
	mu sync.Mutex

	partSize         int64
	failFirstTry     map[int64]bool // fragment id -> fail first attempt
	alwaysFail       map[int64]bool
	fragmentAttempts map[int64]int
	fragments        map[int64][]byte
	completeCount    int64
	finishCalls      int
	createVideoCalls int
	dougaForm        map[string]string
}

func newUploadServer(t *testing.T, partSize int64) (*uploadServer, *httptest.Server) {
	s := &uploadServer{
		t:                t,
		partSize:         partSize,
		failFirstTry:     map[int64]bool{},
		alwaysFail:       map[int64]bool{},
		fragmentAttempts: map[int64]int{},
		fragments:        map[int64][]byte{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/video/api/getKSCloudToken", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result":0,"taskId":4242,"token":"upload-token","uploadConfig":{"partSize":%d}}`, s.partSize)
	})
	mux.HandleFunc("/api/upload/fragment", func(w http.ResponseWriter, r *http.Request) {
		var id int64
		fmt.Sscan(r.URL.Query().Get("fragment_id"), &id)
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.fragmentAttempts[id]++
		attempt := s.fragmentAttempts[id]
		fail := s.alwaysFail[id] || (s.failFirstTry[id] && attempt == 1)
		if !fail {
			s.fragments[id] = body
		}
		s.mu.Unlock()

		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"result":1}`)
	})
	mux.HandleFunc("/api/upload/complete", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fmt.Sscan(r.URL.Query().Get("fragment_count"), &s.completeCount)
		s.mu.Unlock()
		fmt.Fprint(w, `{"result":1}`)
	})
	mux.HandleFunc("/video/api/uploadFinish", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.finishCalls++
		s.mu.Unlock()
		fmt.Fprint(w, `{"result":0}`)
	})
	mux.HandleFunc("/video/api/createVideo", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "4242", r.PostForm.Get("videoKey"))
		assert.Equal(t, "cloud", r.PostForm.Get("vodType"))
		s.mu.Lock()
		s.createVideoCalls++
		s.mu.Unlock()
		fmt.Fprint(w, `{"result":0,"videoId":777}`)
	})
	mux.HandleFunc("/common/api/getQiniuToken", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":0,"taskId":1,"token":"cover-token","uploadConfig":{"partSize":1048576}}`)
	})
	mux.HandleFunc("/common/api/getUrlAfterUpload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "cover-token", r.PostForm.Get("token"))
		fmt.Fprint(w, `{"result":0,"url":"https://imgs.example/cover.jpg"}`)
	})
	mux.HandleFunc("/video/api/createDouga", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		s.mu.Lock()
		s.dougaForm = form
		s.mu.Unlock()
		fmt.Fprint(w, `{"result":0,"dougaId":12345}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	old := fragmentRetryDelay
	fragmentRetryDelay = time.Millisecond
	t.Cleanup(func() { fragmentRetryDelay = old })

	cfg := config.UploadConfig{CookieJar: writeJar(t, testJar)}
	return NewClient(cfg, slog.Default()).WithEndpoints(Endpoints{
		Member: srv.URL,
		Upload: srv.URL,
		Login:  srv.URL,
	})
}

func writeUploadFile(t *testing.T, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestUploadVideo_FullFlow(t *testing.T) {
	s, srv := newUploadServer(t, 4)
	c := newTestClient(t, srv)

	path := writeUploadFile(t, 10) // 3 fragments of 4,4,2

	var lastSent, lastTotal int64
	videoID, err := c.UploadVideo(context.Background(), path, func(sent, total int64) {
		lastSent, lastTotal = sent, total
	})
	require.NoError(t, err)
	assert.Equal(t, "777", videoID)
	assert.Equal(t, int64(10), lastSent)
	assert.Equal(t, int64(10), lastTotal)

	assert.Equal(t, int64(3), s.completeCount)
	assert.Equal(t, 1, s.finishCalls)
	assert.Equal(t, 1, s.createVideoCalls)

	// Reassembled fragments match the source file byte for byte.
	var joined bytes.Buffer
	for i := int64(1); i <= 3; i++ {
		joined.Write(s.fragments[i])
	}
	want, _ := os.ReadFile(path)
	assert.Equal(t, want, joined.Bytes())
}

func TestUploadVideo_FragmentRetry(t *testing.T) {
	s, srv := newUploadServer(t, 4)
	s.failFirstTry[2] = true
	s.failFirstTry[5] = true
	c := newTestClient(t, srv)

	path := writeUploadFile(t, 18) // 5 fragments of 4,4,4,4,2

	videoID, err := c.UploadVideo(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "777", videoID)

	assert.Equal(t, 2, s.fragmentAttempts[2])
	assert.Equal(t, 2, s.fragmentAttempts[5])
	assert.Equal(t, 1, s.fragmentAttempts[1])
	assert.Equal(t, 1, s.createVideoCalls)
	assert.Equal(t, int64(5), s.completeCount)
}

func TestUploadVideo_FragmentExhaustsRetries(t *testing.T) {
	s, srv := newUploadServer(t, 4)
	s.alwaysFail[2] = true
	c := newTestClient(t, srv)

	path := writeUploadFile(t, 10)

	_, err := c.UploadVideo(context.Background(), path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fragment 2/3")

	assert.Equal(t, 1+stepRetries, s.fragmentAttempts[2])
	assert.Zero(t, s.createVideoCalls)
}

func TestUploadCover(t *testing.T) {
	s, srv := newUploadServer(t, 4)
	c := newTestClient(t, srv)

	path := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpegbytes"), 0o644))

	url, err := c.UploadCover(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://imgs.example/cover.jpg", url)
	assert.Equal(t, []byte("jpegbytes"), s.fragments[1])
	assert.Equal(t, int64(1), s.completeCount)
}

func TestCreateDouga_Repost(t *testing.T) {
	s, srv := newUploadServer(t, 4)
	c := newTestClient(t, srv)

	resp, err := c.CreateDouga(context.Background(), PublishRequest{
		Title:       "标题",
		Description: "说明",
		Tags:        []string{"音乐", "现场", "", ""},
		ChannelID:   "201",
		CoverURL:    "https://imgs.example/cover.jpg",
		VideoID:     "777",
		OriginalURL: "https://source.example/watch?v=abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "ac12345", resp.ACNumber)
	assert.Equal(t, "777", resp.VideoID)

	assert.Equal(t, "1", s.dougaForm["creationType"])
	assert.Equal(t, "0", s.dougaForm["originalDeclare"])
	assert.Equal(t, "https://source.example/watch?v=abc", s.dougaForm["originalLinkUrl"])
	assert.Equal(t, `["音乐","现场"]`, s.dougaForm["tagNames"])
	assert.Contains(t, s.dougaForm["videoInfos"], `"videoId":"777"`)
}

func TestCreateDouga_Original(t *testing.T) {
	s, srv := newUploadServer(t, 4)
	c := newTestClient(t, srv)

	_, err := c.CreateDouga(context.Background(), PublishRequest{
		Title:     "标题",
		ChannelID: "201",
		VideoID:   "777",
	})
	require.NoError(t, err)

	assert.Equal(t, "3", s.dougaForm["creationType"])
	assert.Equal(t, "1", s.dougaForm["originalDeclare"])
	assert.Empty(t, s.dougaForm["originalLinkUrl"])
}

func TestBuildDescription(t *testing.T) {
	p := Provenance{
		SourceURL:           "https://source.example/watch?v=abc",
		Uploader:            "Some Channel",
		UploadDate:          "2026-01-02",
		OriginalDescription: "original text",
	}

	got := BuildDescription("翻译后的简介", p)
	assert.True(t, strings.HasPrefix(got, "翻译后的简介\n\n原始来源："))
	assert.Contains(t, got, "UP主：Some Channel")
	assert.Contains(t, got, "---原简介---\noriginal text")

	// A long user description is trimmed before the block header, which
	// stays intact.
	long := strings.Repeat("长", 1500)
	got = BuildDescription(long, p)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxPublishDescriptionChars)
	assert.Contains(t, got, "---原简介---\noriginal text")
	assert.Contains(t, got, p.SourceURL)

	// No provenance: plain capped description.
	assert.Equal(t, "desc", BuildDescription("desc", Provenance{}))
}

func TestLoadJarFile(t *testing.T) {
	jar := "# Netscape HTTP Cookie File\n" +
		".acfun.cn\tTRUE\t/\tTRUE\t4102444800\tacPasstoken\ttok\n" +
		"#HttpOnly_.acfun.cn\tTRUE\t/\tTRUE\t4102444800\tacSecurity\tsec\n" +
		".acfun.cn\tTRUE\t/\tTRUE\t1000000000\texpired\told\n" +
		".acfun.cn\tTRUE\t/\tTRUE\t0\tsession\tlive\n"
	path := writeJar(t, jar)

	entries, err := LoadJarFile(path)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "acPasstoken", entries[0].Name)
	assert.Equal(t, "acSecurity", entries[1].Name)
	assert.Equal(t, "session", entries[2].Name)

	assert.True(t, JarUsable(path))
	assert.False(t, JarUsable(writeJar(t, "not a cookie jar\n")))
}

func TestEnsureLogin_NoCredentials(t *testing.T) {
	c := NewClient(config.UploadConfig{}, slog.Default())
	err := c.EnsureLogin(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestEnsureLogin_FormLogin(t *testing.T) {
	var loginCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/web/login/signin", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "alice", r.PostForm.Get("username"))
		loginCalls++
		fmt.Fprint(w, `{"result":0}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.UploadConfig{Username: "alice", Password: "s3cret"}
	c := NewClient(cfg, slog.Default()).WithEndpoints(Endpoints{
		Member: srv.URL, Upload: srv.URL, Login: srv.URL,
	})

	require.NoError(t, c.EnsureLogin(context.Background()))
	require.NoError(t, c.EnsureLogin(context.Background()))
	assert.Equal(t, 1, loginCalls, "session is reused")
}
