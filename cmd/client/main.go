package main

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := rootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("upload failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "webdropper-client FILE...",
		Short: "Upload files to a webdropper server",
		Long: `Upload one or more files to a webdropper server in a single request.
The files are streamed, so they are never held in memory in full.

Examples:
  webdropper-client report.pdf
  webdropper-client --url http://10.0.0.2:3000/ *.jpg`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			httpClient := &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					DisableKeepAlives: true,
				},
			}
			status, body, err := upload(cmd.Context(), httpClient, url, args)
			if err != nil {
				return err
			}
			log.Info().Int("status", status).Msg("upload finished")
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			if status < 200 || status > 299 {
				return fmt.Errorf("server answered %d %s", status, http.StatusText(status))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "http://127.0.0.1:3000/", "Upload URL of the server")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Timeout for the whole request (0 means none)")
	return cmd
}

// upload streams paths as one multipart/form-data body, one "file" part per
// path, named after the base name of the path.
func upload(ctx context.Context, httpClient *http.Client, url string, paths []string) (int, []byte, error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return 0, nil, err
		}
		if info.IsDir() {
			return 0, nil, fmt.Errorf("%s is a directory", p)
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		for _, p := range paths {
			if err := writePart(mw, p); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	log.Debug().Strs("files", paths).Str("url", url).Msg("sending files")
	resp, err := httpClient.Do(req)
	if err != nil {
		pr.Close()
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	d, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, d, nil
}

func writePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return fmt.Errorf("copy %s: %w", path, err)
	}
	log.Debug().Str("file", path).Int64("bytes", n).Msg("file written to request")
	return nil
}
