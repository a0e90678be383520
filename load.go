// SPDX-FileCopyrightText: 2026 The gpioirq Authors
//
// SPDX-License-Identifier: MIT

package gpioirq

import (
	"errors"
	"fmt"
)

const (
	// DefaultRegion is the configuration region holding the channels.
	DefaultRegion = "papsvc"

	// DefaultBase is the path of the channel configuration within the region.
	DefaultBase = "/gpioint"
)

// Store provides typed access to a configuration database.
//
// Missing keys return an error matching ErrConfigNotFound.
type Store interface {
	U8Array(region, path string, count int) ([]uint8, error)
	String(region, path string) (string, error)
}

// LoadContext reads the channel configuration from the store.
//
// The configuration is laid out under base as:
//
//	intcount      the number of channels
//	ch<i>/pincfg  the group, offset and device of channel i
//	ch<i>/consumer the consumer label of channel i
//	enablelist    optional, one value per channel, non-zero if enabled
//
// All channels are enabled if the enablelist is absent.
func LoadContext(store Store, region, base string) (*Context, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidParameter)
	}
	cv, err := readU8(store, region, base+"/intcount", 1)
	if err != nil {
		return nil, fmt.Errorf("intcount: %w", err)
	}
	count := int(cv[0])
	if count < 1 || count > MaxChannels {
		return nil, fmt.Errorf("%w: channel count %d not in [1,%d]", ErrInvalidParameter, count, MaxChannels)
	}
	enabled := make([]uint8, count)
	for i := range enabled {
		enabled[i] = 1
	}
	el, err := readU8(store, region, base+"/enablelist", count)
	switch {
	case err == nil:
		enabled = el
	case !errors.Is(err, ErrConfigNotFound):
		return nil, fmt.Errorf("enablelist: %w", err)
	}
	ctx := &Context{Channels: make([]ChannelConfig, count)}
	for i := range ctx.Channels {
		path := fmt.Sprintf("%s/ch%d", base, i)
		pc, err := readU8(store, region, path+"/pincfg", 3)
		if err != nil {
			return nil, fmt.Errorf("channel %d pincfg: %w", i, err)
		}
		consumer, err := store.String(region, path+"/consumer")
		if err != nil {
			return nil, fmt.Errorf("channel %d consumer: %w", i, err)
		}
		ctx.Channels[i] = ChannelConfig{
			Group:    int(pc[0]),
			Offset:   int(pc[1]),
			Device:   int(pc[2]),
			Consumer: consumer,
			Enabled:  enabled[i] != 0,
		}
	}
	return ctx, nil
}

// readU8 reads count values, rejecting short arrays.
func readU8(store Store, region, path string, count int) ([]uint8, error) {
	v, err := store.U8Array(region, path, count)
	if err != nil {
		return nil, err
	}
	if len(v) < count {
		return nil, fmt.Errorf("%w: %s has %d values, expected %d", ErrInvalidParameter, path, len(v), count)
	}
	return v, nil
}

// StoreLoader loads the Context from a Store.
type StoreLoader struct {
	Store Store

	// Region defaults to DefaultRegion.
	Region string

	// Base defaults to DefaultBase.
	Base string
}

// LoadContext reads the channel configuration from the store.
func (l StoreLoader) LoadContext() (*Context, error) {
	region := l.Region
	if region == "" {
		region = DefaultRegion
	}
	base := l.Base
	if base == "" {
		base = DefaultBase
	}
	return LoadContext(l.Store, region, base)
}
