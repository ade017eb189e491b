package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"edgetrader/pkg/hype/types"

	"github.com/goccy/go-json"
)

// RemoteSigner 把待签名的动作发给独立的签名服务，私钥不进入本进程
type RemoteSigner struct {
	url        string
	httpClient *http.Client
}

type signRequest struct {
	Action any   `json:"action"`
	Nonce  int64 `json:"nonce"`
}

func NewRemoteSigner(rawUrl string) (*RemoteSigner, error) {
	parsedUrl, err := url.Parse(rawUrl)
	if err != nil || parsedUrl.Scheme == "" || parsedUrl.Host == "" {
		return nil, fmt.Errorf("invalid signer URL: %s", rawUrl)
	}
	return &RemoteSigner{url: parsedUrl.String(), httpClient: &http.Client{Timeout: 5 * time.Second}}, nil
}

func (s *RemoteSigner) SignAction(ctx context.Context, action any, nonce int64) (types.Signature, error) {
	body, err := json.Marshal(signRequest{Action: action, Nonce: nonce})
	if err != nil {
		return types.Signature{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return types.Signature{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return types.Signature{}, fmt.Errorf("signer request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Signature{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return types.Signature{}, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}
	var sig types.Signature
	if err := json.Unmarshal(data, &sig); err != nil {
		return types.Signature{}, fmt.Errorf("signer response: %w", err)
	}
	if sig.R == "" || sig.S == "" {
		return types.Signature{}, fmt.Errorf("signer returned an empty signature")
	}
	return sig, nil
}
