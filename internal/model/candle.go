package model

import "time"

// Candle is a single raw OHLC bar. Candle slices are ordered oldest first.
type Candle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// SmoothedCandle is the Heikin-Ashi style bar derived recursively from the raw
// series. Its open depends on the previous smoothed bar, so a smoothed series
// is only meaningful when tracked continuously from a seed.
type SmoothedCandle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// Bullish reports whether the bar closed above its open.
func (c SmoothedCandle) Bullish() bool { return c.Close > c.Open }

// Bearish reports whether the bar closed below its open.
func (c SmoothedCandle) Bearish() bool { return c.Close < c.Open }

// Flat reports a doji bar. Flat bars neither extend nor break a directional run.
func (c SmoothedCandle) Flat() bool { return c.Close == c.Open }
