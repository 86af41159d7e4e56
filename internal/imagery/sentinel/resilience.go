package sentinel

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/swisscorp/agrisat/internal/imagery"
)

var errNoHTTPClient = errors.New("http client not configured")

// doRequest executes a catalog request through the circuit breaker and
// maps the outcome onto the imagery error taxonomy. No automatic
// retries: blind retries against a rate-limited quota only worsen
// throttling, so retry policy stays with the caller.
func doRequest(ctx context.Context, client *http.Client, cb *gobreaker.CircuitBreaker, req *http.Request) (*http.Response, error) {
	if client == nil {
		return nil, errNoHTTPClient
	}

	req = req.WithContext(ctx)

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			return nil, fmt.Errorf("%w: %v", imagery.ErrSourceUnavailable, execErr)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: catalog returned 429", imagery.ErrRateLimited)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: catalog rejected credentials (%d)", imagery.ErrSourceUnavailable, resp.StatusCode)
		case resp.StatusCode >= 500:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: catalog returned %d", imagery.ErrSourceUnavailable, resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: unexpected status %d", imagery.ErrSourceUnavailable, resp.StatusCode)
		}

		return resp, nil
	})

	if err != nil {
		// An open breaker means the backend has been failing; report it
		// the same way as a direct failure.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", imagery.ErrSourceUnavailable)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", imagery.ErrSourceUnavailable, err)
		}
		return nil, err
	}

	resp, ok := result.(*http.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp, nil
}
