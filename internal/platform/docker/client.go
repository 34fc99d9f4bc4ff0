package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/imgconv/internal/convert"
	"github.com/dontdude/imgconv/internal/domain"
)

const (
	// DefaultImage ships ImageMagick 7 with "magick" as its entrypoint.
	DefaultImage = "dpokidov/imagemagick:latest"

	memoryLimit = 512 * 1024 * 1024 // 512MB
	workDir     = "/work"
)

// Client runs each conversion in an ephemeral ImageMagick container.
type Client struct {
	cli   *client.Client
	image string
	log   *slog.Logger

	pullMu sync.Mutex
	pulled bool
}

// Check if Client implements domain.Converter
var _ domain.Converter = (*Client)(nil)

// NewClient connects to the Docker daemon from the environment and pings it.
// An unreachable daemon is a startup error.
func NewClient(ctx context.Context, imageName string, logger *slog.Logger) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Ping Docker to ensure connection
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	if imageName == "" {
		imageName = DefaultImage
	}
	logger.Info("Docker client initialized", "image", imageName)
	return &Client{cli: cli, image: imageName, log: logger.With("component", "docker")}, nil
}

// Close releases the daemon connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// ensureImage pulls the image once per process. A failed pull is retried by the next job.
func (c *Client) ensureImage(ctx context.Context) error {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()
	if c.pulled {
		return nil
	}

	c.log.Info("Pulling image", "image", c.image)
	reader, err := c.cli.ImagePull(ctx, c.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	// Drain the response body to ensure the pull completes properly.
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	c.pulled = true
	return nil
}

// Convert copies the input into a fresh container, runs magick and copies the
// output back. The container is memory capped, has no network and is always removed.
func (c *Client) Convert(ctx context.Context, req domain.ConvertRequest) (domain.ConvertOutput, error) {
	format, ok := convert.Lookup(req.OutputFormat)
	if !ok {
		return domain.ConvertOutput{}, domain.NewConversionError(fmt.Sprintf("unsupported output format %q", req.OutputFormat), nil)
	}
	if err := c.ensureImage(ctx); err != nil {
		return domain.ConvertOutput{}, err
	}

	inputName := "input." + convert.SafeExtension(req.InputExtension, "img")
	outputName := "output." + format.Value
	args := convert.MagickArgs(path.Join(workDir, inputName), path.Join(workDir, outputName), format, req.Quality)

	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:           c.image,
		Entrypoint:      []string{"magick"},
		Cmd:             args,
		WorkingDir:      workDir,
		NetworkDisabled: true,
	}, &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory: memoryLimit,
		},
	}, nil, nil, "")
	if err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("failed to create container: %w", err)
	}
	log := c.log.With("containerID", resp.ID)
	defer func() {
		// Removal must happen even when ctx already expired.
		rmCtx := context.WithoutCancel(ctx)
		if err := c.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Warn("Failed to remove container", "error", err)
		}
	}()

	archive, err := inputArchive(strings.TrimPrefix(workDir, "/"), inputName, req.Input)
	if err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("failed to pack input: %w", err)
	}
	if err := c.cli.CopyToContainer(ctx, resp.ID, "/", archive, container.CopyToContainerOptions{}); err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("failed to copy input: %w", err)
	}

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return domain.ConvertOutput{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			return domain.ConvertOutput{}, ctx.Err()
		}
		return domain.ConvertOutput{}, fmt.Errorf("failed to wait for container: %w", err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return domain.ConvertOutput{}, domain.NewConversionError("imagemagick failed",
				fmt.Errorf("exit status %d: %s", status.StatusCode, c.stderr(ctx, resp.ID)))
		}
	}

	rc, _, err := c.cli.CopyFromContainer(ctx, resp.ID, path.Join(workDir, outputName))
	if err != nil {
		return domain.ConvertOutput{}, domain.NewConversionError("imagemagick produced no output", err)
	}
	defer rc.Close()

	data, err := firstFile(rc)
	if err != nil {
		return domain.ConvertOutput{}, domain.NewConversionError("failed to read output", err)
	}
	log.Debug("Container conversion finished", "format", format.Value, "bytes", len(data))
	return domain.ConvertOutput{Data: data, MimeType: format.MimeType}, nil
}

// stderr returns the container's output for error messages, best effort.
func (c *Client) stderr(ctx context.Context, id string) string {
	logs, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "no logs available"
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "no logs available"
	}
	msg := strings.TrimSpace(stderr.String() + stdout.String())
	if msg == "" {
		return "no output"
	}
	return msg
}
