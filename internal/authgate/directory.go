package authgate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nunster3000/rydr-app-sub000/pkg/bank"
)

const directoryLookupTimeout = 3 * time.Second

// HTTPDirectory resolves emails through the identity service's internal
// lookup endpoint. A 404 means the recipient has no account yet, which is
// a valid transfer target, not an error.
type HTTPDirectory struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewHTTPDirectory wires an HTTPDirectory.
func NewHTTPDirectory(baseURL string, authToken string) (*HTTPDirectory, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	return &HTTPDirectory{
		baseURL:    trimmed,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: directoryLookupTimeout},
	}, nil
}

type directoryLookupResponse struct {
	AccountID string `json:"account_id"`
}

// LookupAccountByEmail implements bank.Directory.
func (directory *HTTPDirectory) LookupAccountByEmail(ctx context.Context, email bank.Email) (bank.AccountID, bool, error) {
	lookupURL := fmt.Sprintf("%s/internal/accounts/lookup?email=%s", directory.baseURL, url.QueryEscape(email.String()))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return bank.AccountID{}, false, fmt.Errorf("build directory request: %w", err)
	}
	if directory.authToken != "" {
		request.Header.Set("Authorization", "Bearer "+directory.authToken)
	}

	response, err := directory.httpClient.Do(request)
	if err != nil {
		return bank.AccountID{}, false, fmt.Errorf("directory lookup: %w", err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		var payload directoryLookupResponse
		if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
			return bank.AccountID{}, false, fmt.Errorf("decode directory response: %w", err)
		}
		accountID, err := bank.NewAccountID(payload.AccountID)
		if err != nil {
			return bank.AccountID{}, false, fmt.Errorf("directory returned %w", err)
		}
		return accountID, true, nil
	case http.StatusNotFound:
		return bank.AccountID{}, false, nil
	default:
		return bank.AccountID{}, false, fmt.Errorf("directory lookup status %d", response.StatusCode)
	}
}

// StaticDirectory is a fixed email -> account map. Used by tests and the
// memory-store run mode.
type StaticDirectory struct {
	accounts map[string]string
}

// NewStaticDirectory wires a StaticDirectory; keys are lowercased.
func NewStaticDirectory(accounts map[string]string) *StaticDirectory {
	normalized := make(map[string]string, len(accounts))
	for email, accountID := range accounts {
		normalized[strings.ToLower(email)] = accountID
	}
	return &StaticDirectory{accounts: normalized}
}

// LookupAccountByEmail implements bank.Directory.
func (directory *StaticDirectory) LookupAccountByEmail(_ context.Context, email bank.Email) (bank.AccountID, bool, error) {
	raw, found := directory.accounts[email.String()]
	if !found {
		return bank.AccountID{}, false, nil
	}
	accountID, err := bank.NewAccountID(raw)
	if err != nil {
		return bank.AccountID{}, false, err
	}
	return accountID, true, nil
}
