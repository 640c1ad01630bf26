package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxDownload caps remote files fetched by the loader.
const maxDownload = 32 << 20

// Loader resolves file references: base64:// payloads, http(s) URLs,
// file:// URLs and local paths.
type Loader struct {
	client *http.Client
}

func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client}
}

func (l *Loader) Load(ctx context.Context, file string) ([]byte, error) {
	switch {
	case file == "":
		return nil, fmt.Errorf("empty file reference")
	case strings.HasPrefix(file, Base64Prefix):
		return base64.StdEncoding.DecodeString(strings.TrimPrefix(file, Base64Prefix))
	case isHTTP(file):
		return l.download(ctx, file)
	default:
		return os.ReadFile(strings.TrimPrefix(file, "file://"))
	}
}

func (l *Loader) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownload))
}
