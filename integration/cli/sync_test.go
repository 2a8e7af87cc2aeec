//go:build integration

package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/wikisync/internal/testutil"
)

const (
	logoFilename = "T--MYTEAM--logo.png"
	homeTitle    = "Team:MYTEAM"
	aboutTitle   = "Team:MYTEAM/about"
	styleTitle   = "Template:MYTEAM/css/mainCSS"
)

func TestSync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	wiki := testutil.NewMediaWiki(t)
	h := NewHarness(t, wiki)

	require.NoError(t, h.Build(ctx), "build binary")

	setupSite(t, h)

	t.Run("A_InitialSync", func(t *testing.T) {
		testInitialSync(t, h, ctx, wiki)
	})

	t.Run("B_NoOpSync", func(t *testing.T) {
		testNoOpSync(t, h, ctx)
	})

	t.Run("C_SingleFileChange", func(t *testing.T) {
		testSingleFileChange(t, h, ctx, wiki)
	})

	t.Run("D_DryRunMode", func(t *testing.T) {
		testDryRunMode(t, h, ctx)
	})

	t.Run("E_StrictMode", func(t *testing.T) {
		testStrictMode(t, h, ctx, wiki)
	})

	t.Run("F_LoginFailure", func(t *testing.T) {
		testLoginFailure(t, h, ctx)
	})

	t.Run("G_Identity", func(t *testing.T) {
		testIdentity(t, h, ctx, wiki)
	})
}

// setupSite writes a small site with one asset, two pages and a stylesheet
func setupSite(t *testing.T, h *Harness) {
	t.Helper()
	h.WriteFile("src/index.html", `<html><head><link rel="stylesheet" href="css/main.css"></head>
<body><img src="assets/logo.png"><a href="about/">About us</a></body></html>
`)
	h.WriteFile("src/about/index.html", `<html><body><a href="../">Home</a><p>v1</p></body></html>
`)
	h.WriteFile("src/css/main.css", `body { background: url("../assets/logo.png"); }
`)
	h.WriteFile("src/assets/logo.png", "PNGDATA-v1")
	h.WriteFile("src/README.md", "not published")
}

// testInitialSync verifies that a fresh sync uploads the asset before any
// page and links pages to the URL the wiki assigned to it
func testInitialSync(t *testing.T, h *Harness, ctx context.Context, wiki *testutil.MediaWiki) {
	t.Helper()
	h.ClearRequests()

	h.MustRun(ctx, "sync")

	reqs := h.Requests()
	assertOps(t, reqs, []string{
		"login " + testutil.WikiUser,
		"upload " + logoFilename,
		"edit " + aboutTitle,
		"edit " + homeTitle,
		"edit " + styleTitle,
	})

	logoURL := wiki.URL + "/wiki/images/a/ab/" + logoFilename
	home, _ := wiki.Page(homeTitle)
	assert.Contains(t, home, logoURL, "home page links the uploaded logo")
	assert.Contains(t, home, wiki.URL+"/Template:MYTEAM/css/mainCSS?action=raw&amp;ctype=text/css",
		"home page links the stylesheet template")
	style, _ := wiki.Page(styleTitle)
	assert.Contains(t, style, `url("`+logoURL+`")`, "stylesheet references the uploaded logo")

	assert.True(t, h.FileExists("upload_map.yml"), "sync map not written")
	assert.True(t, h.FileExists("wikisync.cookies"), "cookie file not written")
	built, err := h.ReadFile("build/about/index.html")
	require.NoError(t, err, "build output missing")
	assert.Contains(t, built, wiki.URL+"/Team:MYTEAM", "build output rewritten")
}

// testNoOpSync verifies that a rerun without changes only logs in
func testNoOpSync(t *testing.T, h *Harness, ctx context.Context) {
	t.Helper()
	h.ClearRequests()

	stdout := h.MustRun(ctx, "sync")

	assertOps(t, h.Requests(), []string{"login " + testutil.WikiUser})
	assert.Contains(t, stdout, "contents uploaded previously, skipping")
}

// testSingleFileChange verifies that only the edited page is uploaded
func testSingleFileChange(t *testing.T, h *Harness, ctx context.Context, wiki *testutil.MediaWiki) {
	t.Helper()
	h.WriteFile("src/about/index.html", `<html><body><a href="../">Home</a><p>v2</p></body></html>
`)
	h.ClearRequests()

	h.MustRun(ctx, "sync")

	assertOps(t, h.Requests(), []string{
		"login " + testutil.WikiUser,
		"edit " + aboutTitle,
	})
	about, _ := wiki.Page(aboutTitle)
	assert.Contains(t, about, "v2", "about page updated")
}

// testDryRunMode verifies that a dry run neither contacts the wiki nor
// touches the sync map
func testDryRunMode(t *testing.T, h *Harness, ctx context.Context) {
	t.Helper()
	h.WriteFile("src/assets/logo.png", "PNGDATA-v2")
	before, err := h.ReadFile("upload_map.yml")
	require.NoError(t, err, "read sync map")
	h.ClearRequests()

	stdout := h.MustRun(ctx, "sync", "--dry-run")

	assert.Empty(t, h.Requests(), "dry run sent requests")
	assert.Contains(t, stdout, "[dry-run] would upload asset")
	after, err := h.ReadFile("upload_map.yml")
	require.NoError(t, err, "read sync map")
	assert.Equal(t, before, after, "dry run modified the sync map")
}

// testStrictMode verifies that a failed page is retried by the next run and
// only fails the process with --strict
func testStrictMode(t *testing.T, h *Harness, ctx context.Context, wiki *testutil.MediaWiki) {
	t.Helper()
	h.WriteFile("src/team/index.html", "<p>team</p>\n")
	wiki.RejectPage("Team:MYTEAM/team")

	// Uploads the logo changed during the dry run. Its URL stays the same,
	// so no page is uploaded again.
	h.MustRun(ctx, "sync")

	_, _, exitCode, err := h.Run(ctx, "sync", "--strict")
	require.NoError(t, err)
	assert.Equal(t, 1, exitCode, "strict sync exit code")

	h.ClearRequests()
	_, _, exitCode, err = h.Run(ctx, "sync")
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode, "non-strict sync exit code")
	_, ok := wiki.Page("Team:MYTEAM/team")
	assert.False(t, ok, "rejected page was stored")
}

// testLoginFailure verifies that bad credentials fail before any upload
func testLoginFailure(t *testing.T, h *Harness, ctx context.Context) {
	t.Helper()
	h.SetCredentials(testutil.WikiUser, "wrong")
	defer h.SetCredentials(testutil.WikiUser, testutil.WikiPassword)
	h.WriteFile("src/about/index.html", "<p>v3</p>\n")
	h.ClearRequests()

	_, _, exitCode, err := h.Run(ctx, "sync")
	require.NoError(t, err)
	assert.Equal(t, 1, exitCode)
	assertOps(t, h.Requests(), []string{"login " + testutil.WikiUser})
}

// testIdentity verifies identity output without contacting the wiki
func testIdentity(t *testing.T, h *Harness, ctx context.Context, wiki *testutil.MediaWiki) {
	t.Helper()
	h.ClearRequests()

	stdout := h.MustRun(ctx, "identity", "about/team.html", "assets/img/logo.png")

	for _, want := range []string{
		"upload url: " + wiki.URL + "/wiki/index.php?title=Team:MYTEAM/about&action=edit",
		"link url:   " + wiki.URL + "/Team:MYTEAM/about",
		"filename:   T--MYTEAM--img--logo.png",
	} {
		assert.Contains(t, stdout, want)
	}
	assert.Empty(t, h.Requests(), "identity contacted the wiki")
}

func assertOps(t *testing.T, got []testutil.Request, want []string) {
	t.Helper()
	ops := make([]string, 0, len(got))
	for _, r := range got {
		ops = append(ops, r.String())
	}
	assert.Equal(t, want, ops)
}
