package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/jsonmessage"
	"go.uber.org/zap"
)

// ImageBuilder builds images from tar build contexts.
type ImageBuilder struct {
	engine Engine
	logger *zap.Logger
}

// NewImageBuilder creates a new ImageBuilder
func NewImageBuilder(logger *zap.Logger, engine Engine) *ImageBuilder {
	return &ImageBuilder{engine: engine, logger: logger}
}

// Build submits buildContext to the engine with the given Dockerfile and a
// unique tag "<logicalName>:<token>". It succeeds only if the build event
// stream reports exactly one image id.
func (b *ImageBuilder) Build(ctx context.Context, buildContext io.Reader, dockerfile, logicalName string) (Image, error) {
	tag := logicalName + ":" + newToken()
	logger := b.logger.With(zap.String("image", logicalName), zap.String("tag", tag))

	resp, err := b.engine.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return Image{}, &BuildError{Image: logicalName, Err: err}
	}
	defer resp.Body.Close()

	id, err := consumeBuildEvents(resp.Body, logger)
	if err != nil {
		return Image{}, &BuildError{Image: logicalName, Err: err}
	}

	logger.Info("image built", zap.String("id", id))
	return Image{LogicalName: logicalName, Tag: tag, ID: id}, nil
}

// consumeBuildEvents drains the build event stream and returns the single
// image id it reported.
func consumeBuildEvents(r io.Reader, logger *zap.Logger) (string, error) {
	decoder := json.NewDecoder(r)
	var imageID string

	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("failed to read build event: %w", err)
		}

		if msg.Error != nil {
			return "", fmt.Errorf("engine reported: %s", msg.Error.Message)
		}

		produced := auxImageID(msg.Aux)
		if produced == "" {
			if line := strings.TrimSpace(msg.Stream); line != "" {
				logger.Debug("build output", zap.String("stream", line))
			}
			continue
		}

		if imageID != "" && imageID != produced {
			return "", fmt.Errorf("%w: %s and %s", ErrMultipleImageIDs, imageID, produced)
		}
		imageID = produced
	}

	if imageID == "" {
		return "", ErrNoImageID
	}
	return imageID, nil
}

// auxImageID extracts the image id from a build event's aux payload, or
// returns "" when the payload carries something else.
func auxImageID(aux *json.RawMessage) string {
	if aux == nil {
		return ""
	}
	var result struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(*aux, &result); err != nil {
		return ""
	}
	return result.ID
}
