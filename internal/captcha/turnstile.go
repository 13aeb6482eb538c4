package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"boligmarked/market/internal/config"
)

// Verifier checks a Cloudflare Turnstile token issued to a browser.
type Verifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// siteVerifyResponse is the subset of the siteverify reply we read.
type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
	Hostname   string   `json:"hostname"`
	Action     string   `json:"action"`
}

type turnstileVerifier struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

// NewTurnstileVerifier creates a verifier from cfg. Without a secret key it is
// disabled and Verify accepts everything.
func NewTurnstileVerifier(cfg *config.Config) Verifier {
	return &turnstileVerifier{
		secret:     cfg.TurnstileSecretKey,
		verifyURL:  cfg.TurnstileVerifyURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (v *turnstileVerifier) Enabled() bool { return v.secret != "" }

// Verify calls the siteverify endpoint. A rejected token is (false, nil); an
// error means the endpoint could not be consulted.
func (v *turnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if !v.Enabled() {
		return true, nil
	}
	if token == "" {
		return false, nil
	}

	formData := map[string]string{
		"secret":   v.secret,
		"response": token,
	}
	if remoteIP != "" {
		formData["remoteip"] = remoteIP
	}
	jsonData, _ := json.Marshal(formData)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(jsonData))
	if err != nil {
		return false, fmt.Errorf("failed to create turnstile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to contact turnstile service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read turnstile response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("turnstile verification failed with status %d", resp.StatusCode)
	}

	var cfResp siteVerifyResponse
	if err := json.Unmarshal(body, &cfResp); err != nil {
		return false, fmt.Errorf("failed to parse turnstile response: %w", err)
	}
	if !cfResp.Success {
		log.Printf("Turnstile verification unsuccessful. Error codes: %v", cfResp.ErrorCodes)
	}
	return cfResp.Success, nil
}
