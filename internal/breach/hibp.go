// Package breach looks passwords up in a compromised-password corpus using
// the k-anonymity range protocol: only the first five hex characters of the
// password's SHA-1 leave the process.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"golang.org/x/time/rate"
)

// Checker reports whether a password is known to be compromised. Errors
// mean "unknown", never "safe".
type Checker interface {
	Check(ctx context.Context, password string) (bool, error)
}

const DefaultBaseURL = "https://api.pwnedpasswords.com"

type HIBPClient struct {
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

type Option func(*HIBPClient)

func WithBaseURL(u string) Option {
	return func(c *HIBPClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *HIBPClient) { c.client = h }
}

// WithRateLimit caps outgoing requests per second; zero or less disables
// limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *HIBPClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

func NewHIBPClient(opts ...Option) *HIBPClient {
	c := &HIBPClient{
		baseURL:   DefaultBaseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(10), 5),
		userAgent: "vaultcore",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Check queries the range endpoint for the password's hash prefix and
// scans the returned suffixes. Padding entries with a zero count are
// ignored.
func (c *HIBPClient) Check(ctx context.Context, password string) (bool, error) {
	sum := sha1.Sum([]byte(password))
	hash := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := hash[:5], hash[5:]

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("%w: %w", common.ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/range/"+prefix, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Add-Padding", "true")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: range query returned %s", common.ErrTransport, resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		s, count, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(s, suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		return err == nil && n > 0, nil
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", common.ErrTransport, err)
	}
	return false, nil
}
