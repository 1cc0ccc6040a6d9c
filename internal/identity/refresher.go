package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	refreshBaseFloor    = 10 * time.Second
	refreshBackoffCap   = 300 * time.Second
	refreshMaxFailures  = 5
)

// Source configures where a Refresher looks for a JWKS document: a URL, a
// local file, or an inline JSON blob, tried in that order on every cycle.
type Source struct {
	InlineJSON string
	Path       string
	URL        string
}

func (s Source) empty() bool {
	return s.InlineJSON == "" && s.Path == "" && s.URL == ""
}

// Refresher periodically reloads a JWKS document and swaps it into a
// Verifier, backing off exponentially on repeated failure.
type Refresher struct {
	verifier *Verifier
	source   Source
	base     time.Duration
	client   *http.Client
	log      *logrus.Logger
}

// NewRefresher builds a Refresher with the documented refresh base
// interval (clamped to a 10s floor by the config loader).
func NewRefresher(verifier *Verifier, source Source, base time.Duration, log *logrus.Logger) *Refresher {
	if base < refreshBaseFloor {
		base = refreshBaseFloor
	}
	return &Refresher{
		verifier: verifier,
		source:   source,
		base:     base,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Run loads the JWKS once immediately (best effort) and then refreshes on
// a backoff schedule until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	if r.source.empty() {
		r.log.Debug("jwks refresher has no configured source; identity verification will use the hs256 fallback")
		return
	}

	failures := 0
	for {
		if err := r.refreshOnce(); err != nil {
			failures++
			r.log.WithError(err).WithField("failures", failures).Warn("jwks refresh failed")
		} else {
			failures = 0
		}

		wait := backoffFor(r.base, failures)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func backoffFor(base time.Duration, failures int) time.Duration {
	if failures == 0 {
		return base
	}
	shift := failures
	if shift > refreshMaxFailures {
		shift = refreshMaxFailures
	}
	wait := base
	for i := 0; i < shift; i++ {
		wait *= 2
	}
	if wait > refreshBackoffCap {
		wait = refreshBackoffCap
	}
	return wait
}

func (r *Refresher) refreshOnce() error {
	raw, err := r.load()
	if err != nil {
		return err
	}
	keys, err := ParseJWKS(raw)
	if err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}
	r.verifier.SetKeys(keys)
	return nil
}

func (r *Refresher) load() ([]byte, error) {
	if r.source.URL != "" {
		raw, err := r.loadURL(r.source.URL)
		if err == nil {
			return raw, nil
		}
		r.log.WithError(err).Debug("jwks url fetch failed, falling back to file/inline source")
	}
	if r.source.Path != "" {
		raw, err := os.ReadFile(r.source.Path)
		if err == nil {
			return raw, nil
		}
		r.log.WithError(err).Debug("jwks file read failed, falling back to inline source")
	}
	if r.source.InlineJSON != "" {
		return []byte(r.source.InlineJSON), nil
	}
	return nil, fmt.Errorf("no jwks source succeeded")
}

func (r *Refresher) loadURL(url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read jwks body: %w", err)
	}
	var probe json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("jwks body not valid json: %w", err)
	}
	return body, nil
}
