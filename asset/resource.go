package asset

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// The Resource class wraps a streamable file or remote Resource.
type Resource struct {
	io.ReadCloser
	url *url.URL
}

// Returns the path to this resource.
func (r *Resource) Path() string {
	return r.url.String()
}

// Returns true if the Resource is streamed over http/https.
func (r *Resource) IsRemote() bool {
	return r.url.Scheme != ""
}

// Returns the local filesystem path of this resource and true, or an empty
// string and false if the resource is remote.
func (r *Resource) LocalPath() (string, bool) {
	if r.IsRemote() {
		return "", false
	}
	return filepath.Clean(r.url.Path), true
}

// Create a new Resource data stream. The path may be a local file or an
// http/https URL. The caller must close the returned resource.
func NewResource(pathToResource string) (*Resource, error) {
	// Replace backslashes with forward slashes and try parsing as a URL
	resURL, err := url.Parse(strings.Replace(pathToResource, `\`, `/`, -1))
	if err != nil {
		return nil, errors.Wrapf(err, "resource: could not parse %q", pathToResource)
	}

	var reader io.ReadCloser
	switch resURL.Scheme {
	case "":
		reader, err = openLocal(resURL)
	case "http", "https":
		reader, err = openRemote(resURL)
	default:
		return nil, errors.Errorf("resource: unsupported scheme '%s'", resURL.Scheme)
	}
	if err != nil {
		return nil, err
	}

	return &Resource{
		ReadCloser: reader,
		url:        resURL,
	}, nil
}

// Create a resource from a reader.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	resURL, _ := url.Parse(name)
	if resURL == nil {
		resURL = &url.URL{Path: name}
	}
	return &Resource{
		ReadCloser: io.NopCloser(source),
		url:        resURL,
	}
}

func openLocal(resURL *url.URL) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(resURL.Path))
	if err != nil {
		return nil, errors.Wrap(err, "resource")
	}
	return f, nil
}

func openRemote(resURL *url.URL) (io.ReadCloser, error) {
	resp, err := http.Get(resURL.String())
	if err != nil {
		return nil, errors.Errorf("resource: could not fetch '%s': %s", resURL.String(), err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, errors.Errorf("resource: could not fetch '%s': status %d", resURL.String(), resp.StatusCode)
	}
	return resp.Body, nil
}
