package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockModelSource is a mock implementation of the ModelSource interface for testing.
type MockModelSource struct {
	mockDownloadModel func(ctx context.Context, ref string, destination string) (*DownloadResult, error)
}

func (m *MockModelSource) DownloadModel(ctx context.Context, ref string, destination string) (*DownloadResult, error) {
	if m.mockDownloadModel != nil {
		return m.mockDownloadModel(ctx, ref, destination)
	}
	return nil, errors.New("DownloadModel not implemented for mock")
}

func TestNewDownloader(t *testing.T) {
	mockSource := &MockModelSource{}
	d := NewDownloader(mockSource)

	require.NotNil(t, d)
	assert.Same(t, mockSource, d.source)
}

func TestDownloader_Download(t *testing.T) {
	tests := []struct {
		name          string
		mockResult    *DownloadResult
		mockError     error
		expectedError bool
	}{
		{
			name:       "Successful download",
			mockResult: &DownloadResult{ModelPath: "/tmp/download/nine_pebbles.onnx"},
		},
		{
			name:          "Download with error",
			mockError:     errors.New("mock download error"),
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDownloader(&MockModelSource{
				mockDownloadModel: func(_ context.Context, ref string, destination string) (*DownloadResult, error) {
					assert.Equal(t, "scout/nine-pebbles", ref)
					assert.Equal(t, "/tmp/download", destination)
					return tt.mockResult, tt.mockError
				},
			})

			result, err := d.Download(context.Background(), "scout/nine-pebbles", "/tmp/download")
			if tt.expectedError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mockResult.ModelPath, result.ModelPath)
		})
	}
}

func testFetcher(client *http.Client) fetcher {
	logger, _ := test.NewNullLogger()
	return newFetcher(client, "", logger)
}

func Test_downloadFile(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name           string
		serverHandler  http.HandlerFunc
		fileName       string
		expectedErrMsg string
	}{
		{
			name: "Successful download",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, "test content")
			},
			fileName: "test.onnx",
		},
		{
			name: "HTTP error status",
			serverHandler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Not Found", http.StatusNotFound)
			},
			fileName:       "error.onnx",
			expectedErrMsg: "status code 404",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.serverHandler)
			defer server.Close()

			f := testFetcher(server.Client())
			filePath := filepath.Join(tempDir, tt.fileName)
			err := f.downloadFile(context.Background(), server.URL, filePath)

			if tt.expectedErrMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErrMsg)
				assert.NoFileExists(t, filePath)
				return
			}
			require.NoError(t, err)
			content, err := os.ReadFile(filePath)
			require.NoError(t, err)
			assert.Equal(t, "test content", string(content))
		})
	}

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), "leftover partial file %s", e.Name())
	}
}

func Test_downloadFile_Cancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "never read")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := testFetcher(server.Client())
	path := filepath.Join(t.TempDir(), "m.onnx")
	err := f.downloadFile(ctx, server.URL, path)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, path)
}

func TestURLSource_DownloadModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/nine_pebbles.onnx" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, "onnx model content")
	}))
	defer server.Close()

	dest := t.TempDir()
	logger, _ := test.NewNullLogger()
	src := NewURLSource(server.Client(), logger)

	result, err := src.DownloadModel(context.Background(), server.URL+"/models/nine_pebbles.onnx?download=1", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "nine_pebbles.onnx"), result.ModelPath)
	assert.FileExists(t, result.ModelPath)

	_, err = src.DownloadModel(context.Background(), server.URL+"/models/readme.md", dest)
	assert.ErrorIs(t, err, ErrNoModel)

	_, err = src.DownloadModel(context.Background(), server.URL+"/models/other.onnx", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 404")
}

func TestHuggingFaceSource_DownloadModel(t *testing.T) {
	tests := []struct {
		name          string
		modelID       string
		apiKey        string
		apiHandler    http.HandlerFunc
		cdnHandler    http.HandlerFunc
		expectedModel string
		expectedData  []string
		expectedError string
	}{
		{
			name:    "Successful download of ONNX and external data",
			modelID: "test-org/test-model",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"modelId": "test-org/test-model","siblings": [{"rfilename": "onnx/model.onnx"},{"rfilename": "onnx/model.onnx_data"},{"rfilename": "onnx/model_fp16.onnx_data"},{"rfilename": "model.onnx_data"},{"rfilename": "config.json"}]}`)
			},
			cdnHandler: func(w http.ResponseWriter, r *http.Request) {
				switch {
				case strings.HasSuffix(r.URL.Path, "/resolve/main/onnx/model.onnx"):
					_, _ = fmt.Fprint(w, "onnx model content")
				case strings.HasSuffix(r.URL.Path, "/resolve/main/onnx/model.onnx_data"):
					_, _ = fmt.Fprint(w, "weights")
				default:
					http.Error(w, "Not Found", http.StatusNotFound)
				}
			},
			expectedModel: "model.onnx",
			expectedData:  []string{"model.onnx_data"},
		},
		{
			name:    "Authenticated download",
			modelID: "test-org/private",
			apiKey:  "secret",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer secret" {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				_, _ = fmt.Fprint(w, `{"modelId": "test-org/private","siblings": [{"rfilename": "nine_pebbles.onnx"}]}`)
			},
			cdnHandler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer secret" {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				_, _ = fmt.Fprint(w, "onnx model content")
			},
			expectedModel: "nine_pebbles.onnx",
		},
		{
			name:    "Model not found on HuggingFace API",
			modelID: "nonexistent/model",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Not Found", http.StatusNotFound)
			},
			expectedError: "HuggingFace API returned non-OK status: 404 Not Found",
		},
		{
			name:    "No ONNX model in repository",
			modelID: "test-org/no-onnx",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"modelId": "test-org/no-onnx","siblings": [{"rfilename": "tokenizer.json"}]}`)
			},
			expectedError: "model ID test-org/no-onnx: no ONNX model found",
		},
		{
			name:    "CDN download failure",
			modelID: "test-org/cdn-fail",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"modelId": "test-org/cdn-fail","siblings": [{"rfilename": "model.onnx"}]}`)
			},
			cdnHandler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			},
			expectedError: "failed to download ONNX model model.onnx: failed to download file from",
		},
		{
			name:    "External data failure removes the model",
			modelID: "test-org/data-fail",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"modelId": "test-org/data-fail","siblings": [{"rfilename": "model.onnx"},{"rfilename": "model.onnx.data"}]}`)
			},
			cdnHandler: func(w http.ResponseWriter, r *http.Request) {
				if strings.HasSuffix(r.URL.Path, "/model.onnx") {
					_, _ = fmt.Fprint(w, "onnx model content")
					return
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			},
			expectedError: "failed to download external data model.onnx.data",
		},
		{
			name:    "Malformed API response",
			modelID: "test-org/bad-json",
			apiHandler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = fmt.Fprint(w, `{"siblings": [`)
			},
			expectedError: "failed to decode HuggingFace API response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiServer := httptest.NewServer(tt.apiHandler)
			defer apiServer.Close()

			cdnHandler := tt.cdnHandler
			if cdnHandler == nil {
				cdnHandler = func(w http.ResponseWriter, r *http.Request) {
					http.Error(w, "Not Found", http.StatusNotFound)
				}
			}
			cdnServer := httptest.NewServer(cdnHandler)
			defer cdnServer.Close()

			tempDir := t.TempDir()
			logger, _ := test.NewNullLogger()
			hfSource := NewHuggingFaceSource(HuggingFaceConfig{
				APIURL: apiServer.URL + "/api/models/",
				CDNURL: cdnServer.URL,
				APIKey: tt.apiKey,
				Logger: logger,
			})
			result, err := hfSource.DownloadModel(context.Background(), tt.modelID, tempDir)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, result)
				entries, err := os.ReadDir(tempDir)
				require.NoError(t, err)
				assert.Empty(t, entries, "files left behind after a failed download")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(tempDir, tt.expectedModel), result.ModelPath)
			assert.FileExists(t, result.ModelPath)
			require.Len(t, result.ExternalDataPaths, len(tt.expectedData))
			for i, name := range tt.expectedData {
				assert.Equal(t, filepath.Join(tempDir, name), result.ExternalDataPaths[i])
				assert.FileExists(t, result.ExternalDataPaths[i])
			}
		})
	}
}

func TestNewHuggingFaceSource_Defaults(t *testing.T) {
	src := NewHuggingFaceSource(HuggingFaceConfig{})
	assert.Equal(t, DefaultHuggingFaceAPI, src.apiURL)
	assert.Equal(t, DefaultHuggingFaceCDN, src.cdnURL)
	assert.Equal(t, "https://huggingface.co/org/model/resolve/main/model.onnx", src.fileURL("org/model", "model.onnx"))
}

func TestIsExternalDataOf(t *testing.T) {
	tests := []struct {
		model, name string
		want        bool
	}{
		{"model.onnx", "model.onnx.data", true},
		{"onnx/model.onnx", "onnx/model.onnx_data", true},
		{"onnx/model.onnx", "onnx/MODEL.ONNX_DATA", true},
		{"onnx/model.onnx", "model.onnx_data", false},
		{"onnx/model.onnx", "onnx/model_fp16.onnx_data", false},
		{"model.onnx", "model.onnx", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isExternalDataOf(tt.model, tt.name), "%s / %s", tt.model, tt.name)
	}
}
