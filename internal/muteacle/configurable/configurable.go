// Package configurable implements the small embedded configuration record
// shared by every configurable entity in muteacle (hashers and repository
// configuration records). It replaces the mixin-style configuration base
// of the system this package is derived from with a plain embedded struct
// exposing three pure operations: read, diff-merge and reset.
package configurable

import "reflect"

// Configurable holds a fixed set of recognised keys, their default values,
// and the entity's current effective values. Embed it in any type that
// needs the "first-fill, then diff-merge, reset-on-nil" configuration
// mechanism described by the Configurable-object contract.
type Configurable struct {
	recognisedKeys []string
	defaults       map[string]any
	current        map[string]any
}

// New creates a Configurable with the given recognised keys and defaults.
// defaults must have an entry for every key in recognisedKeys.
func New(recognisedKeys []string, defaults map[string]any) Configurable {
	keys := make([]string, len(recognisedKeys))
	copy(keys, recognisedKeys)
	d := make(map[string]any, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return Configurable{recognisedKeys: keys, defaults: d}
}

// Keys returns the recognised key set.
func (c *Configurable) Keys() []string {
	out := make([]string, len(c.recognisedKeys))
	copy(out, c.recognisedKeys)
	return out
}

// Default returns the default value for a recognised key.
func (c *Configurable) Default(key string) (any, bool) {
	v, ok := c.defaults[key]
	return v, ok
}

// Get returns a copy of the current effective configuration. Returns nil
// until the first Set call.
func (c *Configurable) Get() map[string]any {
	if c.current == nil {
		return nil
	}
	out := make(map[string]any, len(c.current))
	for k, v := range c.current {
		out[k] = v
	}
	return out
}

// Set applies values to the configuration following the Configurable-object
// contract:
//
//   - config == nil resets every recognised key to its default and reports
//     every key as changed.
//   - an uninitialised Configurable (no prior Set call) treats this as the
//     first configuration: every recognised key is filled, substituting
//     defaults for keys missing from config.
//   - otherwise this is a reconfiguration: only keys present in config whose
//     value differs from the current effective value are written;
//     unrecognised keys are ignored.
//
// Returns the number of keys changed.
func (c *Configurable) Set(config map[string]any) int {
	if config == nil {
		c.current = make(map[string]any, len(c.recognisedKeys))
		for _, k := range c.recognisedKeys {
			c.current[k] = c.defaults[k]
		}
		return len(c.recognisedKeys)
	}

	if c.current == nil {
		c.current = make(map[string]any, len(c.recognisedKeys))
		for _, k := range c.recognisedKeys {
			if v, ok := config[k]; ok {
				c.current[k] = v
			} else {
				c.current[k] = c.defaults[k]
			}
		}
		return len(c.recognisedKeys)
	}

	changes := 0
	for _, k := range c.recognisedKeys {
		v, ok := config[k]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(v, c.current[k]) {
			c.current[k] = v
			changes++
		}
	}
	return changes
}
