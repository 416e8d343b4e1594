// Package directory resolves user ids to display info. The user service
// itself is an external collaborator; only the lookup contract lives here.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Directory answers bulk display-name lookups.
type Directory interface {
	BulkUsernames(ctx context.Context, ids []int) (map[int]string, error)
}

// HTTPDirectory queries the user service's internal bulk endpoint.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDirectory constructs a directory client against baseURL.
func NewHTTPDirectory(baseURL string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// BulkUsernames fetches usernames for the given ids in one call.
func (d *HTTPDirectory) BulkUsernames(ctx context.Context, ids []int) (map[int]string, error) {
	if len(ids) == 0 {
		return map[int]string{}, nil
	}

	params := make([]string, 0, len(ids))
	for _, id := range ids {
		params = append(params, strconv.Itoa(id))
	}
	url := fmt.Sprintf("%s/internal/users?ids=%s", d.baseURL, strings.Join(params, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user service returned %d", resp.StatusCode)
	}

	var body struct {
		Users []struct {
			ID       int    `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	names := make(map[int]string, len(body.Users))
	for _, u := range body.Users {
		names[u.ID] = u.Username
	}
	return names, nil
}

// Noop is used when no user service is configured; responses simply omit
// display names.
type Noop struct{}

func (Noop) BulkUsernames(ctx context.Context, ids []int) (map[int]string, error) {
	return map[int]string{}, nil
}
