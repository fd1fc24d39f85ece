package input

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/resilience"
)

// maxDownloadSize caps a remote query list.
const maxDownloadSize = 32 << 20

var httpClient = &http.Client{Timeout: 60 * time.Second}

// Download fetches url into a temp file, retrying transient failures. The
// returned cleanup removes the file.
func Download(ctx context.Context, url string) (string, func(), error) {
	dir, err := os.MkdirTemp("", "prospect-input-*")
	if err != nil {
		return "", nil, eris.Wrap(err, "input: create temp dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }
	path := filepath.Join(dir, "queries"+extOf(url))

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("input.download")
	err = resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return downloadTo(ctx, url, path)
	})
	if err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "input: download %s", url)
	}
	return path, cleanup, nil
}

func downloadTo(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resilience.NewValidationError(eris.Wrap(err, "input: build request"))
	}
	req.Header.Set("User-Agent", "prospect-cli/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "input: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return resilience.Wrap(resilience.KindForStatus(resp.StatusCode),
			eris.Errorf("input: unexpected status %d", resp.StatusCode))
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "input: create file")
	}
	defer f.Close() //nolint:errcheck

	n, err := io.Copy(f, io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return eris.Wrap(err, "input: write file")
	}
	zap.L().Debug("input: downloaded query list", zap.String("url", url), zap.Int64("bytes", n))
	return nil
}
