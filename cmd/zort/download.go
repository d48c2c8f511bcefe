package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerfoo/zort/pkg/downloader"
)

func (a *app) downloadCommand() *cobra.Command {
	var modelID, rawURL, output string
	cmd := &cobra.Command{
		Use:   "download (--model <huggingface-id> | --url <url>)",
		Short: "Download an ONNX model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, err := a.cfg.Download.HTTPTimeout()
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: timeout}

			var (
				source downloader.ModelSource
				ref    string
			)
			if rawURL != "" {
				source, ref = downloader.NewURLSource(client, a.log), rawURL
			} else {
				source = downloader.NewHuggingFaceSource(downloader.HuggingFaceConfig{
					APIURL: a.cfg.Download.APIURL,
					CDNURL: a.cfg.Download.CDNURL,
					APIKey: a.cfg.Download.APIKey,
					Client: client,
					Logger: a.log,
				})
				ref = modelID
			}

			fmt.Fprintf(a.stdout, "Downloading model '%s' to '%s'...\n", ref, output)
			result, err := downloader.NewDownloader(source).Download(cmd.Context(), ref, output)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Successfully downloaded model to: %s\n", result.ModelPath)
			if len(result.ExternalDataPaths) > 0 {
				fmt.Fprintln(a.stdout, "Downloaded external data files:")
				for _, p := range result.ExternalDataPaths {
					fmt.Fprintf(a.stdout, "  - %s\n", p)
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&modelID, "model", "", "HuggingFace model ID (e.g. 'scout/nine-pebbles')")
	f.StringVar(&rawURL, "url", "", "Direct URL of an .onnx file")
	f.StringVarP(&output, "output", "o", ".", "Output directory for downloaded files")
	f.String("api-key", "", "HuggingFace API key (default: $ZORT_HF_API_KEY or $HF_API_KEY)")
	f.Duration("timeout", 5*time.Minute, "HTTP timeout for each request")
	cmd.MarkFlagsMutuallyExclusive("model", "url")
	cmd.MarkFlagsOneRequired("model", "url")
	return cmd
}
