// Package pool handles commodity pool ticker parsing and validation.
//
// A pool ties one agricultural commodity market to one growing region.
// Tickers follow AGRI-{COMMODITY}-{QUOTE}-{regionHash}, for example
// AGRI-COFFEE-USDC-1b2e8d04.
package pool

import (
	"errors"
	"fmt"
	"regexp"
)

// Supported commodities.
const (
	CommodityCoffee = "COFFEE"
	CommodityWheat  = "WHEAT"
	CommodityCorn   = "CORN"
	CommoditySoy    = "SOY"
	CommodityCocoa  = "COCOA"
)

var validCommodities = map[string]bool{
	CommodityCoffee: true,
	CommodityWheat:  true,
	CommodityCorn:   true,
	CommoditySoy:    true,
	CommodityCocoa:  true,
}

// tickerRegex matches: AGRI-{commodity}-{quote}-{regionHash}
var tickerRegex = regexp.MustCompile(
	`^AGRI-([A-Z]+)-([A-Z0-9]+)-([0-9a-f]+)$`,
)

var (
	ErrInvalidTicker    = errors.New("pool: invalid ticker format")
	ErrInvalidCommodity = errors.New("pool: unsupported commodity")
)

// Pool is a parsed commodity pool identifier.
type Pool struct {
	Ticker     string `json:"ticker"`
	Commodity  string `json:"commodity"`
	Quote      string `json:"quote"`
	RegionHash string `json:"region_hash"`
}

// ParseTicker parses and validates a pool ticker string.
// Format: AGRI-{COMMODITY}-{QUOTE}-{regionHash}
func ParseTicker(ticker string) (*Pool, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected AGRI-{commodity}-{quote}-{regionHash})",
			ErrInvalidTicker, ticker)
	}

	commodity := matches[1]
	if !validCommodities[commodity] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCommodity, commodity)
	}

	return &Pool{
		Ticker:     ticker,
		Commodity:  commodity,
		Quote:      matches[2],
		RegionHash: matches[3],
	}, nil
}
