package wiki

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/schaermu/wikisync/internal/config"
)

const (
	editFormID   = "editform"
	editField    = "wpTextbox1"
	uploadFormID = "mw-upload-form"
)

// Login submits the credentials through the first POST form of the login
// page. The login only counts as successful when the response contains the
// configured success marker.
func (c *Client) Login(ctx context.Context, creds config.Credentials) error {
	p, err := c.get(ctx, c.cfg.LoginURL)
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	f, err := parseForm(p, isPost)
	if err != nil {
		return fmt.Errorf("failed to find login form: %w", err)
	}
	f.Fields.Set("username", creds.Username)
	f.Fields.Set("password", creds.Password)

	resp, err := c.postForm(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}

	marker := strings.ToLower(c.cfg.LoginSuccessMarker)
	if !strings.Contains(strings.ToLower(string(resp.Body)), marker) {
		return fmt.Errorf("%w for user %s", ErrLoginFailed, creds.Username)
	}

	c.logger.Info("logged in", "user", creds.Username)
	return nil
}

// UploadPage replaces the content of the page whose edit form is at
// uploadURL
func (c *Client) UploadPage(ctx context.Context, content, uploadURL string) error {
	p, err := c.get(ctx, uploadURL)
	if err != nil {
		return fmt.Errorf("failed to open edit page: %w", err)
	}

	f, err := parseForm(p, byID(editFormID))
	if err != nil {
		return err
	}
	f.Fields.Set(editField, content)

	if _, err := c.postForm(ctx, f); err != nil {
		return fmt.Errorf("failed to submit edit form: %w", err)
	}
	return nil
}

// UploadAsset uploads data as filename through the upload form at uploadURL
// and returns the absolute URL the wiki serves the file from
func (c *Client) UploadAsset(ctx context.Context, data []byte, uploadURL, filename string) (string, error) {
	p, err := c.get(ctx, uploadURL)
	if err != nil {
		return "", fmt.Errorf("failed to open upload page: %w", err)
	}

	f, err := parseForm(p, byID(uploadFormID))
	if err != nil {
		return "", err
	}
	f.Fields.Set("wpDestFile", filename)
	f.Fields.Set("wpIgnoreWarning", "1")

	body, contentType, err := multipartBody(f.Fields, "wpUploadFile", filename, data)
	if err != nil {
		return "", fmt.Errorf("failed to encode upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Action, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit upload form: %w", err)
	}

	link, err := fileLink(resp)
	if err != nil {
		return "", err
	}
	c.logger.Debug("asset stored", "filename", filename, "url", link)
	return link, nil
}

func multipartBody(fields url.Values, fileField, filename string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, values := range fields {
		for _, v := range values {
			if err := w.WriteField(name, v); err != nil {
				return nil, "", err
			}
		}
	}

	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// fileLink extracts the full-size media link from a file description page
func fileLink(p *page) (string, error) {
	doc, err := html.Parse(bytes.NewReader(p.Body))
	if err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}

	media := findNode(doc, func(n *html.Node) bool { return hasClass(n, "fullMedia") })
	if media == nil {
		return "", fmt.Errorf("%w: %s", ErrNoFileLink, p.URL)
	}
	a := findNode(media, func(n *html.Node) bool {
		return n.DataAtom == atom.A && attr(n, "href") != ""
	})
	if a == nil {
		return "", fmt.Errorf("%w: %s", ErrNoFileLink, p.URL)
	}

	ref, err := url.Parse(attr(a, "href"))
	if err != nil {
		return "", fmt.Errorf("invalid file link: %w", err)
	}
	return p.URL.ResolveReference(ref).String(), nil
}
