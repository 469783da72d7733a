// Package output saves the files produced by succeeded jobs.
//
// Files are fetched with hashicorp/go-getter over the SSRF-safe HTTP client:
// output URLs come from the hub, so they are never trusted to point at a
// public host. Each file is named after the job's task name fragment, its
// batch index and its position among the job's outputs:
//
//	portrait_3_1.png
//	portrait_3_2.mp4
package output

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/internal/httpclient"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/pulse/batch"
)

// DefaultTimeout bounds a single output download
const DefaultTimeout = 5 * time.Minute

// Config holds downloader configuration
type Config struct {
	Dir             string
	Timeout         time.Duration // 0 = DefaultTimeout
	AllowPrivateIPs bool
	HTTPClient      *httpclient.SaferClient // Overrides the client built from Timeout/AllowPrivateIPs
	Logger          *zap.SugaredLogger
}

// Downloader is a batch.OutputSink writing outputs into a directory
type Downloader struct {
	dir    string
	http   *httpclient.SaferClient
	logger *zap.SugaredLogger
}

var _ batch.OutputSink = (*Downloader)(nil)

// NewDownloader creates the output directory if needed
func NewDownloader(cfg Config) (*Downloader, error) {
	if cfg.Dir == "" {
		return nil, errors.New("output directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %s", cfg.Dir)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httpclient.New(cfg.Timeout, httpclient.Options{AllowPrivateIPs: cfg.AllowPrivateIPs})
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Downloader{dir: cfg.Dir, http: httpClient, logger: log}, nil
}

// Dir returns the directory outputs are written to
func (d *Downloader) Dir() string {
	return d.dir
}

// Save downloads every output of a succeeded job. One failed download does
// not stop the others; all failures are returned together.
func (d *Downloader) Save(ctx context.Context, job *batch.Job, outputs []batch.Output) error {
	var errs error
	saved := 0
	for i, out := range outputs {
		dst := filepath.Join(d.dir, FileName(job.Spec.TaskName, job.Index, i+1, out))
		if err := d.fetch(ctx, out.URL, dst); err != nil {
			d.logger.Warnw("Output download failed",
				logger.FieldJobIndex, job.Index,
				logger.FieldURL, out.URL,
				logger.FieldError, err)
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "output %d", i+1))
			continue
		}
		saved++
		d.logger.Debugw("Output saved",
			logger.FieldJobIndex, job.Index,
			logger.FieldFile, dst)
	}

	if errs != nil {
		return errors.Wrapf(errs, "saved %d of %d outputs", saved, len(outputs))
	}
	return nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dst string) error {
	if _, err := d.http.ValidateURL(rawURL); err != nil {
		return errors.Wrap(err, "output URL rejected")
	}

	httpGetter := &getter.HttpGetter{
		Client:                d.http.Client,
		XTerraformGetDisabled: true,
	}
	client := &getter.Client{
		Ctx:  ctx,
		Src:  rawURL,
		Dst:  dst,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
		},
		// Outputs are kept as delivered, archives included
		Decompressors: map[string]getter.Decompressor{},
	}
	if err := client.Get(); err != nil {
		return errors.Wrapf(err, "failed to download %s", rawURL)
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds "<taskName>_<index>_<n>.<ext>". The extension comes from
// the output's file type, falling back to the URL path.
func FileName(taskName string, index, n int, out batch.Output) string {
	name := strings.Trim(unsafeNameChars.ReplaceAllString(taskName, "_"), "_.")
	if name == "" {
		name = "job"
	}

	base := name + "_" + strconv.Itoa(index) + "_" + strconv.Itoa(n)
	if ext := extension(out); ext != "" {
		return base + "." + ext
	}
	return base
}

func extension(out batch.Output) string {
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(out.FileType)), ".")
	if ext == "" {
		if u, err := url.Parse(out.URL); err == nil {
			ext = strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
		}
	}
	return unsafeNameChars.ReplaceAllString(ext, "")
}
