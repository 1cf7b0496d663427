package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/shuttleup/shuttle/internal/bytesize"
	"github.com/shuttleup/shuttle/pkg/config"
	"github.com/shuttleup/shuttle/pkg/uploader"
)

var (
	uploadChunkSize   string
	uploadConcurrency int
	uploadRetries     int
	uploadChecksum    string
	uploadQuiet       bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file in resumable chunks",
	Long: `Upload a file to the Shuttle server in resumable chunks.

The file is split into fixed-size chunks uploaded in parallel. If the
transfer is interrupted, re-running the same command resumes from the
chunks the server already holds. The chunk size must stay the same
across runs of the same upload.

On completion the server returns the SHA-256 of the assembled file and,
for ZIP archives, the list of entry names.

Examples:
  # Upload with defaults (5MiB chunks, 3 parallel)
  shuttle upload backup.zip

  # Larger chunks, more parallelism
  shuttle upload backup.zip --chunk-size 16MiB --concurrency 8

  # Let the server verify a known checksum
  shuttle upload backup.zip --checksum 3a7bd3e2360a3d29eea436fcfb7e44c735d117c42d1c1835420b6b9942dd4f1b

  # Script-friendly output
  shuttle upload backup.zip --quiet`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadChunkSize, "chunk-size", "", "Chunk size, e.g. 5MiB (default from config)")
	uploadCmd.Flags().IntVar(&uploadConcurrency, "concurrency", 0, "Number of chunks uploaded in parallel (default from config)")
	uploadCmd.Flags().IntVar(&uploadRetries, "retries", -1, "Retries per chunk before the transfer fails (default from config)")
	uploadCmd.Flags().StringVar(&uploadChecksum, "checksum", "", "Hex SHA-256 of the file for server-side verification")
	uploadCmd.Flags().BoolVarP(&uploadQuiet, "quiet", "q", false, "Suppress the progress bar")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	opts, err := buildUploadOptions(cfg)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !uploadQuiet {
		bar = newUploadBar(info.Size(), filepath.Base(path))
		opts.OnProgress = func(p uploader.Progress) {
			_ = bar.Set64(p.UploadedBytes)
		}
	}

	engine, err := uploader.New(newClient(cfg), file, info.Size(), filepath.Base(path), opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// First Ctrl+C pauses the transfer, second quits. The session stays
	// on the server either way, so re-running resumes it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			engine.Pause()
			fmt.Fprintln(os.Stderr, "\nPaused. Press Ctrl+C again to quit; re-run the command later to resume.")
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "Aborting. The upload can be resumed by re-running the command.")
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	if bar != nil {
		_ = bar.Finish()
	}

	fmt.Printf("Upload complete\n")
	fmt.Printf("  Upload ID: %s\n", result.UploadID)
	fmt.Printf("  SHA-256:   %s\n", result.Hash)
	if len(result.ZipContent) > 0 {
		fmt.Printf("  Archive entries:\n")
		for _, name := range result.ZipContent {
			fmt.Printf("    %s\n", name)
		}
	}

	return nil
}

// buildUploadOptions merges CLI flags over the config file.
func buildUploadOptions(cfg *config.Config) (uploader.Options, error) {
	opts := uploader.Options{
		ChunkSize:      cfg.Client.ChunkSize.Int64(),
		MaxConcurrency: cfg.Client.MaxConcurrency,
		MaxRetries:     cfg.Client.MaxRetries,
		RetryBaseDelay: cfg.Client.RetryBaseDelay,
		ClientHash:     uploadChecksum,
	}

	if uploadChunkSize != "" {
		size, err := bytesize.ParseByteSize(uploadChunkSize)
		if err != nil {
			return opts, fmt.Errorf("invalid --chunk-size: %w", err)
		}
		opts.ChunkSize = size.Int64()
	}
	if uploadConcurrency > 0 {
		opts.MaxConcurrency = uploadConcurrency
	}
	if uploadRetries >= 0 {
		opts.MaxRetries = uploadRetries
	}

	if uploadChecksum != "" && len(uploadChecksum) != 64 {
		return opts, fmt.Errorf("--checksum must be a 64-character hex SHA-256, got %d characters", len(uploadChecksum))
	}

	return opts, nil
}

func newUploadBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}
