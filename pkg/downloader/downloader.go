package downloader

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Hub endpoints used when no override is configured.
const (
	DefaultHuggingFaceAPI = "https://huggingface.co/api/models/"
	DefaultHuggingFaceCDN = "https://huggingface.co/"
)

// ErrNoModel is returned when a source has no ONNX model to offer.
var ErrNoModel = errors.New("no ONNX model found")

// ModelSource defines the interface for a model source, such as HuggingFace
// or a plain URL.
type ModelSource interface {
	// DownloadModel fetches the model named by ref into the destination
	// directory.
	DownloadModel(ctx context.Context, ref string, destination string) (*DownloadResult, error)
}

// DownloadResult contains the paths of the downloaded model and of any
// external tensor data files stored next to it.
type DownloadResult struct {
	ModelPath         string
	ExternalDataPaths []string
}

// Downloader handles the overall download process using a ModelSource.
type Downloader struct {
	source ModelSource
}

// NewDownloader creates a new Downloader with the given ModelSource.
func NewDownloader(source ModelSource) *Downloader {
	return &Downloader{source: source}
}

// Download fetches ref into destination using the configured ModelSource.
func (d *Downloader) Download(ctx context.Context, ref string, destination string) (*DownloadResult, error) {
	return d.source.DownloadModel(ctx, ref, destination)
}

// fetcher performs authenticated GETs and stores bodies on disk.
type fetcher struct {
	client *http.Client
	token  string
	log    logrus.FieldLogger
}

func (f *fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request for %s", rawURL)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download file from %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.Errorf("failed to download file from %s: status code %s", rawURL, resp.Status)
	}
	return resp, nil
}

// downloadFile stores the body of rawURL at filePath. The body is written to
// a temporary file in the same directory first so a failed transfer never
// leaves a truncated model behind.
func (f *fetcher) downloadFile(ctx context.Context, rawURL, filePath string) (err error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "failed to close response body for %s", rawURL)
		}
	}()

	out, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".*.part")
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", filePath)
	}
	tmp := out.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "failed to write file %s", filePath)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "failed to close file %s", filePath)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return errors.Wrapf(err, "failed to move download into %s", filePath)
	}
	f.log.WithFields(logrus.Fields{"url": rawURL, "path": filePath, "bytes": n}).Debug("downloaded file")
	return nil
}

// URLSource downloads a single model file from a URL.
type URLSource struct {
	fetcher
}

// NewURLSource creates a URLSource. A nil client means http.DefaultClient.
func NewURLSource(client *http.Client, log logrus.FieldLogger) *URLSource {
	return &URLSource{fetcher: newFetcher(client, "", log)}
}

// DownloadModel downloads rawURL into destination, keeping the file name of
// the URL path.
func (s *URLSource) DownloadModel(ctx context.Context, rawURL string, destination string) (*DownloadResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid model URL %q", rawURL)
	}
	name := path.Base(u.Path)
	if !isModelFile(name) {
		return nil, errors.Wrapf(ErrNoModel, "URL %s does not name an .onnx file", rawURL)
	}
	modelPath := filepath.Join(destination, name)
	if err := s.downloadFile(ctx, rawURL, modelPath); err != nil {
		return nil, err
	}
	return &DownloadResult{ModelPath: modelPath}, nil
}

// HuggingFaceSource implements the ModelSource interface for HuggingFace Hub.
type HuggingFaceSource struct {
	fetcher
	apiURL string
	cdnURL string
}

// HuggingFaceConfig configures a HuggingFaceSource. Empty URLs select the
// public hub.
type HuggingFaceConfig struct {
	APIURL string
	CDNURL string
	APIKey string
	Client *http.Client
	Logger logrus.FieldLogger
}

// NewHuggingFaceSource creates a new HuggingFaceSource.
func NewHuggingFaceSource(cfg HuggingFaceConfig) *HuggingFaceSource {
	s := &HuggingFaceSource{
		fetcher: newFetcher(cfg.Client, cfg.APIKey, cfg.Logger),
		apiURL:  cfg.APIURL,
		cdnURL:  cfg.CDNURL,
	}
	if s.apiURL == "" {
		s.apiURL = DefaultHuggingFaceAPI
	}
	if s.cdnURL == "" {
		s.cdnURL = DefaultHuggingFaceCDN
	}
	return s
}

// HuggingFaceModelInfo represents the structure of the JSON response from HuggingFace API.
type HuggingFaceModelInfo struct {
	ModelID  string `json:"modelId"`
	Siblings []struct {
		RPath string `json:"rfilename"`
	} `json:"siblings"`
}

// DownloadModel downloads the first ONNX model of a hub repository together
// with the external data files that belong to it. Files written before a
// failed transfer are removed again.
func (h *HuggingFaceSource) DownloadModel(ctx context.Context, modelID string, destination string) (result *DownloadResult, err error) {
	info, err := h.modelInfo(ctx, modelID)
	if err != nil {
		return nil, err
	}

	var modelFile string
	for _, sibling := range info.Siblings {
		if isModelFile(sibling.RPath) {
			modelFile = sibling.RPath
			break
		}
	}
	if modelFile == "" {
		return nil, errors.Wrapf(ErrNoModel, "model ID %s", modelID)
	}

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, p := range written {
			if rerr := os.Remove(p); rerr != nil && !os.IsNotExist(rerr) {
				h.log.WithError(rerr).WithField("path", p).Warn("failed to remove partial download")
			}
		}
	}()

	result = &DownloadResult{ModelPath: filepath.Join(destination, path.Base(modelFile))}
	if err := h.downloadFile(ctx, h.fileURL(modelID, modelFile), result.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "failed to download ONNX model %s", modelFile)
	}
	written = append(written, result.ModelPath)

	for _, sibling := range info.Siblings {
		rPath := sibling.RPath
		if !isExternalDataOf(modelFile, rPath) {
			continue
		}
		dataPath := filepath.Join(destination, path.Base(rPath))
		if err := h.downloadFile(ctx, h.fileURL(modelID, rPath), dataPath); err != nil {
			return nil, errors.Wrapf(err, "failed to download external data %s", rPath)
		}
		written = append(written, dataPath)
		result.ExternalDataPaths = append(result.ExternalDataPaths, dataPath)
	}
	return result, nil
}

func (h *HuggingFaceSource) modelInfo(ctx context.Context, modelID string) (info *HuggingFaceModelInfo, err error) {
	apiURL := strings.TrimSuffix(h.apiURL, "/") + "/" + modelID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build HuggingFace API request")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch model info from HuggingFace API")
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "failed to close response body for %s", apiURL)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("HuggingFace API returned non-OK status: %s", resp.Status)
	}

	info = &HuggingFaceModelInfo{}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, errors.Wrap(err, "failed to decode HuggingFace API response")
	}
	return info, nil
}

func (h *HuggingFaceSource) fileURL(modelID, rPath string) string {
	return strings.TrimSuffix(h.cdnURL, "/") + "/" + modelID + "/resolve/main/" + rPath
}

func newFetcher(client *http.Client, token string, log logrus.FieldLogger) fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return fetcher{client: client, token: token, log: log}
}

func isModelFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".onnx")
}

// isExternalDataOf matches the side files ONNX exporters write next to model
// for large initializers: "<model>.data" or "<model>_data".
func isExternalDataOf(model, name string) bool {
	if path.Dir(model) != path.Dir(name) {
		return false
	}
	base, data := path.Base(model), path.Base(name)
	return strings.EqualFold(data, base+".data") || strings.EqualFold(data, base+"_data")
}
