package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidQuantity      = errors.New("quantity must be a positive integer")
	ErrInvalidSymbol        = errors.New("symbol must be 1-12 uppercase letters or digits")
	ErrUnknownStock         = errors.New("unknown stock")
	ErrStockAlreadyExists   = errors.New("stock already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrEmptyPortfolio       = errors.New("portfolio is empty")
	ErrAccountNotFound      = errors.New("account not found")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, try again")
)

var domainErrors = []struct {
	err    error
	reason string
}{
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidQuantity, "invalid_quantity"},
	{ErrInvalidSymbol, "invalid_symbol"},
	{ErrUnknownStock, "unknown_stock"},
	{ErrStockAlreadyExists, "stock_exists"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrInsufficientHoldings, "insufficient_holdings"},
	{ErrEmptyPortfolio, "empty_portfolio"},
	{ErrAccountNotFound, "account_not_found"},
	{ErrUnauthorized, "unauthorized"},
	{ErrDuplicateIdempotency, "duplicate"},
	{ErrTxConflict, "conflict"},
}

func isDomainError(err error) bool {
	return errorReason(err) != ""
}

func errorReason(err error) string {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.reason
		}
	}
	return ""
}

// AdminActor is the actor used by callers that authenticated out of band,
// such as the token-protected ops API.
const AdminActor = "system:admin"

var (
	symbolRE = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

	// MaxAmount keeps parsed amounts inside the NUMERIC(20,3) columns.
	MaxAmount = decimal.New(1, 15)
)

// Bounds checked before any arithmetic. Comparing or rounding a decimal
// rescales it to its exponent, so inputs like 1e-2000000000 must never reach
// GreaterThan or Round.
const (
	maxAmountLen      = 40
	minAmountExponent = -maxAmountLen
	maxAmountExponent = 15
)

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(symbol) {
		return ErrInvalidSymbol
	}
	return nil
}

// ParseAmount parses a user supplied coin amount. NaN, infinities, negative
// values and values above MaxAmount are rejected. The result is rounded to
// three places.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if len(raw) > maxAmountLen {
		return decimal.Zero, fmt.Errorf("%w: longer than %d characters", ErrInvalidAmount, maxAmountLen)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if exp := d.Exponent(); exp < minAmountExponent || exp > maxAmountExponent {
		return decimal.Zero, fmt.Errorf("%w: %q is out of range", ErrInvalidAmount, raw)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	if d.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: must not exceed %s", ErrInvalidAmount, MaxAmount)
	}
	return d.Round(3), nil
}

func validateQuantity(q int64) error {
	if q <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}
