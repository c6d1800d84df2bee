package core

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// UploadResult holds the three responses of the upload flow in order:
// chunk post, "completed" marker, "post" marker.
type UploadResult struct {
	Chunk     *resty.Response
	Completed *resty.Response
	Posted    *resty.Response
}

// UploadFile replays the three sequential POSTs the upload widget makes:
// announce a single chunk with the file body, mark the upload completed,
// then mark it posted with the caller's extra flags. None of the responses
// carry a reliable success indicator; verify separately by comparing md5
// hashes with CheckFileMd5 on the owning experiment.
func (c *Client) UploadFile(ctx context.Context, localPath, destPath, uploadType string, extra map[string]string) (UploadResult, error) {
	ctx, span := tracer.Start(ctx, "client:UploadFile")
	defer span.End()
	span.SetAttributes(
		attribute.String("local_path", localPath),
		attribute.String("dest_path", destPath),
		attribute.String("type", uploadType),
	)

	filename := filepath.Base(localPath)

	file, err := os.Open(localPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open local file")
		return UploadResult{}, err
	}
	defer file.Close()

	chunk, err := c.Http.R().
		SetContext(ctx).
		SetQueryParam("filePath", destPath).
		SetFormData(map[string]string{
			"name":   filename,
			"chunk":  "0",
			"chunks": "1",
		}).
		SetFileReader("file", filename, file).
		Post(EndpointFileUpload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to post file chunk")
		return UploadResult{}, err
	}

	completed, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"fileFileName": filename,
			"filePath":     destPath,
			"startProcess": "completed",
			"type":         uploadType,
		}).
		Post(EndpointFileUpload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark upload completed")
		return UploadResult{Chunk: chunk}, err
	}

	postForm := map[string]string{
		"fileFileName": filename,
		"filePath":     destPath,
		"startProcess": "post",
		"type":         uploadType,
	}
	for k, v := range extra {
		postForm[k] = v
	}

	posted, err := c.Http.R().
		SetContext(ctx).
		SetFormData(postForm).
		Post(EndpointFileUpload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to mark upload posted")
		return UploadResult{Chunk: chunk, Completed: completed}, err
	}

	return UploadResult{Chunk: chunk, Completed: completed, Posted: posted}, nil
}

// FileMd5 streams a local file through md5 and returns the hex digest.
func FileMd5(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
