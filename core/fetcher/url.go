package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"CastShelf/core/mediaerr"
	"CastShelf/core/utils"
	"CastShelf/logger"
	"CastShelf/storage"

	"github.com/dustin/go-humanize"
)

const (
	userAgent   = "CastShelf/1.0 (+media fetcher)"
	sniffLen    = 512
	maxHTMLRead = 1 << 20
)

var errTooLarge = errors.New("response exceeds size limit")

// URLFetcher downloads direct media URLs.
type URLFetcher struct {
	client   *http.Client
	temp     *storage.TempArea
	maxBytes int64
}

// URLOptions bounds a download.
type URLOptions struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
}

// NewURLFetcher 创建 URL 下载器
func NewURLFetcher(temp *storage.TempArea, opts URLOptions) *URLFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 5
	}
	maxRedirects := opts.MaxRedirects
	return &URLFetcher{
		temp:     temp,
		maxBytes: opts.MaxBytes,
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if prev := via[len(via)-1]; req.URL.Scheme != prev.URL.Scheme {
					return fmt.Errorf("redirect from %s to %s changes protocol", prev.URL.Scheme, req.URL.Scheme)
				}
				return nil
			},
		},
	}
}

func (f *URLFetcher) Fetch(ctx context.Context, src Source) (*Result, error) {
	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, mediaerr.New(mediaerr.InvalidSource, "Invalid source URL")
	}

	res, err := f.download(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	head, err := readHead(res.Path, sniffLen)
	if err != nil {
		res.Cleanup()
		return nil, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Temp file not found or inaccessible")
	}

	if looksLikeHTML(head) {
		page, _ := readHead(res.Path, maxHTMLRead)
		res.Cleanup()

		target := clientRedirectTarget(string(page), src.URL)
		if target == "" {
			logger.Warn("html returned instead of media", logger.String("url", src.URL))
			return nil, mediaerr.New(mediaerr.InvalidContent, "Download failed: Got HTML content instead of media file")
		}
		logger.Info("following client-side redirect",
			logger.String("url", src.URL),
			logger.String("target", target))

		res, err = f.download(ctx, target)
		if err != nil {
			return nil, err
		}
		if head, err = readHead(res.Path, sniffLen); err != nil {
			res.Cleanup()
			return nil, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Temp file not found or inaccessible")
		}
		if looksLikeHTML(head) {
			res.Cleanup()
			return nil, mediaerr.New(mediaerr.InvalidContent, "Download failed: Got HTML redirect page instead of media file")
		}
	}

	if fi, err := os.Stat(res.Path); err == nil && fi.Size() > minSignatureCheckSize && !hasMediaSignature(head) {
		res.Cleanup()
		return nil, mediaerr.New(mediaerr.InvalidContent, "Download failed: Content does not appear to be a valid audio file")
	}
	return res, nil
}

// download performs one GET into a fresh temp-downloads file.
func (f *URLFetcher) download(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.InvalidSource, err, "Invalid source URL")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "audio/*,video/*;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.DownloadFailed, err, "Failed to download file: %v", unwrapURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mediaerr.New(mediaerr.DownloadFailed, "Failed to download file: HTTP %d", resp.StatusCode)
	}

	finalURL := resp.Request.URL.String()
	name := path.Base(resp.Request.URL.Path)
	out, err := f.temp.NewFile(storage.TempDownloads, name)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Failed to create temporary file")
	}
	tmpPath := out.Name()
	res := &Result{
		Path:     tmpPath,
		FinalURL: finalURL,
		cleanup:  func() { utils.RemoveFile(tmpPath) },
	}

	n, err := copyLimited(out, resp.Body, f.maxBytes)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if errors.Is(err, errTooLarge) {
		res.Cleanup()
		return nil, mediaerr.New(mediaerr.DownloadFailed, "Downloaded file exceeds %s", humanize.IBytes(uint64(f.maxBytes)))
	}
	if err != nil {
		res.Cleanup()
		return nil, mediaerr.Wrap(mediaerr.DownloadFailed, err, "Failed to download file: %v", err)
	}
	if n == 0 {
		res.Cleanup()
		return nil, mediaerr.New(mediaerr.DownloadFailed, "Downloaded file is empty")
	}

	res.Extension = extensionOf(name, tmpPath)
	logger.Debug("downloaded",
		logger.String("url", finalURL),
		logger.Int64("bytes", n),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}

func copyLimited(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return io.Copy(dst, src)
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, errTooLarge
	}
	return n, nil
}

func readHead(p string, n int) ([]byte, error) {
	fh, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	buf := make([]byte, n)
	read, err := io.ReadFull(fh, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

func unwrapURLError(err error) error {
	var uErr *url.Error
	if errors.As(err, &uErr) {
		return uErr.Err
	}
	return err
}
