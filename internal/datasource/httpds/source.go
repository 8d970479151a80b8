package httpds

import (
	"context"
	"io"
	"net/http"
)

// Source is a datasource.Source that GETs a URL through a Client.
type Source struct {
	client *Client
	url    string
}

// NewSource returns a Source reading url with client.
func NewSource(client *Client, url string) *Source {
	return &Source{client: client, url: url}
}

// Open performs the GET. A non-2xx answer is returned as *StatusError with
// the body already closed.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &StatusError{URL: s.url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func (s *Source) String() string { return s.url }
