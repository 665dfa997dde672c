package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/cardsync/internal/domain"
)

const (
	loginPath        = "/api/login/login"
	transactionsPath = "/api/transactions"

	windowDateFormat = "02.01.06"
	recordDateFormat = "2006-01-02T15:04:05"
)

// HTTPClient is the provider implementation of Client. Each Fetch performs
// a fresh login and carries the session cookies into the transactions
// request, mirroring how the provider's own web client behaves.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
}

// NewHTTPClient creates a provider client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, timeout: timeout}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ID       string `json:"id"`
}

type loginResponse struct {
	Result *struct {
		LoginStatus int `json:"LoginStatus"`
	} `json:"Result"`
}

type transactionsResponse struct {
	Result struct {
		Transactions []providerTransaction `json:"transactions"`
	} `json:"result"`
}

type providerTransaction struct {
	ARN                 string  `json:"arn"`
	AuthorizationNumber string  `json:"authorizationNumber"`
	ActualPaymentAmount float64 `json:"actualPaymentAmount"`
	OriginalAmount      float64 `json:"originalAmount"`
	OriginalCurrency    string  `json:"originalCurrency"`
	PaymentDate         string  `json:"paymentDate"`
	PurchaseDate        string  `json:"purchaseDate"`
	MerchantName        string  `json:"merchantName"`
	CategoryID          int64   `json:"categoryId"`
}

// Fetch implements Client. Authentication rejections map to
// ErrAuthentication; every other failure (network, status, malformed
// payload) maps to ErrUnavailable.
func (c *HTTPClient) Fetch(ctx context.Context, creds domain.SourceCredentials, window *Window) ([]RawRecord, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cookie jar: %v", ErrUnavailable, err)
	}
	session := &http.Client{Jar: jar, Timeout: c.timeout}

	if err := c.login(ctx, session, creds); err != nil {
		return nil, err
	}
	return c.fetchTransactions(ctx, session, window)
}

func (c *HTTPClient) login(ctx context.Context, session *http.Client, creds domain.SourceCredentials) error {
	payload, err := json.Marshal(loginRequest{
		Username: creds.Username,
		Password: creds.Password,
		ID:       creds.IdentityID,
	})
	if err != nil {
		return fmt.Errorf("%w: marshaling login payload: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: creating login request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := session.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading login response: %v", ErrUnavailable, err)
	}

	var decoded loginResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("%w: decoding login response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK || decoded.Result == nil {
		return fmt.Errorf("%w: login returned status %d", ErrUnavailable, resp.StatusCode)
	}
	if decoded.Result.LoginStatus != 0 {
		return fmt.Errorf("%w: provider login status %d", ErrAuthentication, decoded.Result.LoginStatus)
	}
	return nil
}

func (c *HTTPClient) fetchTransactions(ctx context.Context, session *http.Client, window *Window) ([]RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+transactionsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating transactions request: %v", ErrUnavailable, err)
	}

	filter, err := buildFilterData(window)
	if err != nil {
		return nil, fmt.Errorf("%w: building filter payload: %v", ErrUnavailable, err)
	}
	q := url.Values{}
	q.Set("filterData", filter)
	req.URL.RawQuery = q.Encode()

	resp, err := session.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: transactions request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: transactions returned status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading transactions response: %v", ErrUnavailable, err)
	}

	var decoded transactionsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding transactions response: %v", ErrUnavailable, err)
	}

	records := make([]RawRecord, 0, len(decoded.Result.Transactions))
	for _, tx := range decoded.Result.Transactions {
		records = append(records, RawRecord{
			Reference:      tx.ARN,
			PendingKey:     tx.AuthorizationNumber,
			Amount:         decimal.NewFromFloat(tx.ActualPaymentAmount),
			OriginalAmount: decimal.NewFromFloat(tx.OriginalAmount),
			Currency:       tx.OriginalCurrency,
			PaymentDate:    parseRecordDate(tx.PaymentDate),
			PurchaseDate:   parseRecordDate(tx.PurchaseDate),
			MerchantLabel:  tx.MerchantName,
			CategoryHint:   tx.CategoryID,
		})
	}
	return records, nil
}

// buildFilterData encodes the provider's filter query payload. A nil window
// selects the provider's default current view; an explicit window sets the
// date range in the provider's short date format.
func buildFilterData(window *Window) (string, error) {
	filter := map[string]interface{}{
		"userIndex": -1,
		"cardIndex": -1,
		"monthView": window == nil,
		"bankAccount": map[string]interface{}{
			"bankAccountIndex": -1,
			"cards":            nil,
		},
	}
	if window != nil {
		filter["dates"] = map[string]string{
			"startDate": window.Start.Format(windowDateFormat),
			"endDate":   window.End.Format(windowDateFormat),
		}
	}

	encoded, err := json.Marshal(filter)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// parseRecordDate decodes the provider's timestamp format. Unparseable
// values map to the zero time rather than failing the whole fetch.
func parseRecordDate(s string) time.Time {
	t, err := time.Parse(recordDateFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

var _ Client = (*HTTPClient)(nil)
