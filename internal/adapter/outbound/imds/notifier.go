// Package imds watches the EC2 instance metadata service for spot
// interruption notices using the session-token (IMDSv2) flow.
package imds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"filesearch/internal/application/common/slogger"
	"filesearch/internal/config"
	"filesearch/internal/port/outbound"
)

const (
	tokenPath  = "/latest/api/token"
	actionPath = "/latest/meta-data/spot/instance-action"

	tokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"
	tokenHeader    = "X-aws-ec2-metadata-token"
	tokenTTL       = "21600"

	requestTimeout = 2 * time.Second
)

// Notifier polls the metadata endpoint for an interruption notice.
type Notifier struct {
	cfg  config.PreemptionConfig
	http *http.Client
}

func NewNotifier(cfg config.PreemptionConfig) *Notifier {
	return &Notifier{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

type instanceAction struct {
	Action string `json:"action"`
	Time   string `json:"time"`
}

// Watch starts the poll loop. The returned channel receives at most one
// notice and then closes; it also closes without a notice when ctx ends.
func (n *Notifier) Watch(ctx context.Context) (<-chan outbound.TerminationNotice, error) {
	ch := make(chan outbound.TerminationNotice, 1)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(n.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			notice, err := n.check(ctx)
			if err != nil {
				slogger.Debug(ctx, "Interruption check failed", slogger.Fields{
					"error": err.Error(),
				})
				continue
			}
			if notice != nil {
				ch <- *notice
				return
			}
		}
	}()

	return ch, nil
}

// check performs one token-then-query round trip. A 404 on the action path
// means no interruption is scheduled.
func (n *Notifier) check(ctx context.Context) (*outbound.TerminationNotice, error) {
	token, err := n.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.cfg.Endpoint+actionPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(tokenHeader, token)

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instance-action query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("instance-action query returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("failed to read instance-action body: %w", err)
	}

	var action instanceAction
	if err := json.Unmarshal(body, &action); err != nil {
		return nil, fmt.Errorf("undecodable instance-action body: %w", err)
	}

	deadline, err := time.Parse(time.RFC3339, action.Time)
	if err != nil {
		// The notice is real even when the timestamp is malformed; assume
		// the standard two-minute lead.
		deadline = time.Now().Add(2 * time.Minute)
	}

	return &outbound.TerminationNotice{
		Action:   action.Action,
		Deadline: deadline,
	}, nil
}

func (n *Notifier) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, n.cfg.Endpoint+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(tokenTTLHeader, tokenTTL)

	resp, err := n.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
