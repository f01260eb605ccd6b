package objectpool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

var peerHTTPClient = &http.Client{Timeout: 60 * time.Second}

// httpPutFile pushes a file to a peer storage node's /store endpoint,
// grounded on the original's remote-replication multipart upload.
func httpPutFile(ctx context.Context, endpoint, fileID string, data []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileID)
	if err != nil {
		return fmt.Errorf("objectpool: build upload for %s: %w", fileID, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("objectpool: build upload for %s: %w", fileID, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("objectpool: build upload for %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/store", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := peerHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("objectpool: replicate %s to %s: %w", fileID, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("objectpool: replicate %s to %s: status %d", fileID, endpoint, resp.StatusCode)
	}
	return nil
}

// httpGetFile streams a file from a peer storage node's /fetch endpoint,
// grounded on the original's _fetch_from_remote_node.
func httpGetFile(ctx context.Context, endpoint, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/fetch?file_id="+fileID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := peerHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("objectpool: fetch %s from %s: %w", fileID, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("objectpool: fetch %s from %s: status %d", fileID, endpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
