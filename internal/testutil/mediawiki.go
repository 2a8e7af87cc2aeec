package testutil

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/schaermu/wikisync/internal/config"
)

// Credentials accepted by MediaWiki
const (
	WikiUser     = "alice"
	WikiPassword = "secret"
)

const (
	loginPage = `<html><body>
<form method="get" action="/search"><input name="q"></form>
<form method="post" action="/Login2">
  <input type="hidden" name="token" value="tok123">
  <input type="text" name="username">
  <input type="password" name="password">
  <input type="checkbox" name="remember" value="yes" checked>
  <input type="submit" name="login" value="Log in">
</form>
</body></html>`

	editPage = `<html><body>
<form id="editform" method="post" action="/wiki/index.php?title={{title}}&amp;action=submit" enctype="multipart/form-data">
  <input type="hidden" name="wpEditToken" value="edit+\">
  <textarea name="wpTextbox1">{{content}}</textarea>
  <input type="text" name="wpSummary" value="">
  <select name="wpWatchthis"><option value="no">no</option><option value="yes" selected>yes</option></select>
  <input type="submit" name="wpSave" value="Save page">
  <input type="submit" name="wpPreview" value="Show preview">
</form>
</body></html>`

	uploadPage = `<html><body>
<form id="mw-upload-form" method="post" action="/Special:Upload" enctype="multipart/form-data">
  <input type="hidden" name="wpEditToken" value="up+\">
  <input type="radio" name="wpSourceType" value="url">
  <input type="radio" name="wpSourceType" value="file" checked>
  <input type="file" name="wpUploadFile">
  <input type="text" name="wpDestFile">
  <input type="checkbox" name="wpIgnoreWarning" value="true">
  <input type="submit" name="wpUpload" value="Upload file">
</form>
</body></html>`
)

// Request is one state-changing request received by MediaWiki
type Request struct {
	Op   string // "login", "edit" or "upload"
	Name string // page title or file name
}

func (r Request) String() string {
	return r.Op + " " + r.Name
}

// MediaWiki is an HTTP server imitating the forms of the team wiki: the
// login form, page edit forms and the file upload form. Edits and uploads
// require the session cookie handed out by a successful login.
type MediaWiki struct {
	URL string

	mu           sync.Mutex
	pages        map[string]string
	files        map[string][]byte
	uploadFields map[string]string
	requests     []Request
	rejectFiles  map[string]bool
	rejectPages  map[string]bool
}

// NewMediaWiki starts a server that is closed when the test ends
func NewMediaWiki(t testing.TB) *MediaWiki {
	t.Helper()
	mw := &MediaWiki{
		pages:        map[string]string{},
		files:        map[string][]byte{},
		uploadFields: map[string]string{},
		rejectFiles:  map[string]bool{},
		rejectPages:  map[string]bool{},
	}
	srv := httptest.NewServer(mw)
	t.Cleanup(srv.Close)
	mw.URL = srv.URL
	return mw
}

// Configure points cfg at the server
func (mw *MediaWiki) Configure(cfg *config.Config) {
	cfg.Wiki.BaseURL = mw.URL
	cfg.Wiki.LoginURL = mw.URL + "/Login2"
}

// Page returns the current content of a page
func (mw *MediaWiki) Page(title string) (string, bool) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	content, ok := mw.pages[title]
	return content, ok
}

// File returns the stored content of an uploaded file
func (mw *MediaWiki) File(name string) ([]byte, bool) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	data, ok := mw.files[name]
	return data, ok
}

// UploadFields returns the form fields of the last accepted upload, plus
// "filename" for the name of the file part
func (mw *MediaWiki) UploadFields() map[string]string {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	out := make(map[string]string, len(mw.uploadFields))
	for k, v := range mw.uploadFields {
		out[k] = v
	}
	return out
}

// Requests returns the logins, edits and uploads received so far
func (mw *MediaWiki) Requests() []Request {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return append([]Request(nil), mw.requests...)
}

// ClearRequests forgets the request log
func (mw *MediaWiki) ClearRequests() {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.requests = nil
}

// RejectFile makes uploads of name return a page without a file link
func (mw *MediaWiki) RejectFile(name string) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.rejectFiles[name] = true
}

// RejectPage makes edits of title fail with a server error
func (mw *MediaWiki) RejectPage(title string) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.rejectPages[title] = true
}

func loggedIn(r *http.Request) bool {
	c, err := r.Cookie("session")
	return err == nil && c.Value == "ok"
}

func (mw *MediaWiki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	switch {
	case r.URL.Path == "/Login2" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, loginPage)

	case r.URL.Path == "/Login2" && r.Method == http.MethodPost:
		_ = r.ParseForm()
		if r.Form.Get("token") != "tok123" || r.Form.Get("remember") != "yes" || r.Form.Get("login") != "Log in" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		mw.requests = append(mw.requests, Request{Op: "login", Name: r.Form.Get("username")})
		if r.Form.Get("username") != WikiUser || r.Form.Get("password") != WikiPassword {
			_, _ = io.WriteString(w, "<p>Wrong password.</p>")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		_, _ = io.WriteString(w, "<p>You have Successfully Logged In as alice.</p>")

	case r.URL.Path == "/wiki/index.php" && r.Method == http.MethodGet:
		if r.URL.Query().Get("action") != "edit" {
			http.NotFound(w, r)
			return
		}
		title := r.URL.Query().Get("title")
		page := strings.ReplaceAll(editPage, "{{title}}", html.EscapeString(url.QueryEscape(title)))
		page = strings.ReplaceAll(page, "{{content}}", html.EscapeString(mw.pages[title]))
		_, _ = io.WriteString(w, page)

	case r.URL.Path == "/wiki/index.php" && r.Method == http.MethodPost:
		if !loggedIn(r) {
			http.Error(w, "session lost", http.StatusForbidden)
			return
		}
		_ = r.ParseForm()
		if r.URL.Query().Get("action") != "submit" || r.PostForm.Get("wpEditToken") != `edit+\` ||
			r.PostForm.Get("wpSave") == "" || r.PostForm.Has("wpPreview") || r.PostForm.Get("wpWatchthis") != "yes" {
			http.Error(w, "bad edit form", http.StatusBadRequest)
			return
		}
		title := r.URL.Query().Get("title")
		if mw.rejectPages[title] {
			http.Error(w, "database locked", http.StatusServiceUnavailable)
			return
		}
		mw.requests = append(mw.requests, Request{Op: "edit", Name: title})
		mw.pages[title] = r.PostForm.Get("wpTextbox1")
		_, _ = io.WriteString(w, "<p>saved</p>")

	case r.URL.Path == "/Special:Upload" && r.Method == http.MethodGet:
		_, _ = io.WriteString(w, uploadPage)

	case r.URL.Path == "/Special:Upload" && r.Method == http.MethodPost:
		if !loggedIn(r) {
			http.Error(w, "session lost", http.StatusForbidden)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("wpUploadFile")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		name := r.FormValue("wpDestFile")
		if mw.rejectFiles[name] {
			_, _ = io.WriteString(w, `<div class="error">The file is a duplicate</div>`)
			return
		}
		mw.requests = append(mw.requests, Request{Op: "upload", Name: name})
		mw.files[name] = data
		for _, key := range []string{"wpEditToken", "wpSourceType", "wpIgnoreWarning", "wpUpload"} {
			mw.uploadFields[key] = r.FormValue(key)
		}
		mw.uploadFields["filename"] = header.Filename
		_, _ = fmt.Fprintf(w, `<div id="file"><div class="fullMedia"><p><a href="/wiki/images/a/ab/%s" class="internal">%s</a></p></div></div>`, name, name)

	default:
		http.NotFound(w, r)
	}
}
